package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire/Release should always succeed.
	if !m.Acquire("any-queue", "") {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	m.Release("any-queue", "")
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{
		Name:           "emails",
		MaxConcurrency: 2,
	})

	if !m.Acquire("emails", "") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire("emails", "") {
		t.Fatal("second Acquire should succeed")
	}
	if m.Acquire("emails", "") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	m.Release("emails", "")
	if !m.Acquire("emails", "") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_ActiveCount(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 5})

	for i := range 3 {
		if !m.Acquire("q", "") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.ActiveCount("q") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("q"))
	}

	m.Release("q", "")
	m.Release("q", "")
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("q"))
	}
}

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{
		Name:      "limited",
		RateLimit: 10.0,
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	if !m.Acquire("limited", "") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release("limited", "")

	// Immediately after, token bucket is empty.
	if m.Acquire("limited", "") {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	// Wait for token refill.
	time.Sleep(150 * time.Millisecond)
	if !m.Acquire("limited", "") {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release("limited", "")
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{
		Name:      "bursty",
		RateLimit: 10.0,
		RateBurst: 3,
	})

	for i := range 3 {
		if !m.Acquire("bursty", "") {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		m.Release("bursty", "")
	}
}

func TestManager_TenantIsolation(t *testing.T) {
	m := NewManager(Config{
		Name:           "work",
		MaxConcurrency: 100,
	})

	m.SetTenantConfig(TenantConfig{
		QueueName:      "work",
		Tenant:         "acme",
		MaxConcurrency: 2,
	})
	m.SetTenantConfig(TenantConfig{
		QueueName:      "work",
		Tenant:         "globex",
		MaxConcurrency: 2,
	})

	m.Acquire("work", "acme")
	m.Acquire("work", "acme")

	if m.Acquire("work", "acme") {
		t.Fatal("acme should be blocked at max concurrency")
	}

	// Other tenants are unaffected.
	if !m.Acquire("work", "globex") {
		t.Fatal("globex should not be affected by acme's limits")
	}

	// A tenant with no config has no tenant-level limit.
	if !m.Acquire("work", "initech") {
		t.Fatal("unconfigured tenant should succeed")
	}
}

func TestManager_TenantActiveCount(t *testing.T) {
	m := NewManager(Config{Name: "q", MaxConcurrency: 10})
	m.SetTenantConfig(TenantConfig{
		QueueName:      "q",
		Tenant:         "t1",
		MaxConcurrency: 5,
	})

	m.Acquire("q", "t1")
	m.Acquire("q", "t1")

	if got := m.TenantActiveCount("q", "t1"); got != 2 {
		t.Fatalf("expected tenant active 2, got %d", got)
	}

	m.Release("q", "t1")
	if got := m.TenantActiveCount("q", "t1"); got != 1 {
		t.Fatalf("expected tenant active 1, got %d", got)
	}
}

func TestManager_SetQueueConfig(t *testing.T) {
	m := NewManager(Config{
		Name:           "dyn",
		MaxConcurrency: 1,
	})

	m.Acquire("dyn", "")
	if m.Acquire("dyn", "") {
		t.Fatal("should be blocked at concurrency 1")
	}

	// Raise the limit dynamically; active count is preserved.
	m.SetQueueConfig(Config{
		Name:           "dyn",
		MaxConcurrency: 3,
	})

	if !m.Acquire("dyn", "") {
		t.Fatal("should succeed after raising concurrency")
	}
	if m.ActiveCount("dyn") != 2 {
		t.Fatalf("active = %d, want 2", m.ActiveCount("dyn"))
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{
		Name:           "concurrent",
		MaxConcurrency: 50,
	})

	var acquired atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("concurrent", "") {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := acquired.Load(); got != 50 {
		t.Fatalf("acquired = %d, want exactly 50", got)
	}
	if m.ActiveCount("concurrent") != 50 {
		t.Fatalf("active = %d, want 50", m.ActiveCount("concurrent"))
	}
}
