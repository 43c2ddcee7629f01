package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// TenantConfig defines rate limits and concurrency for a specific tenant
// on a specific queue, identified by the job's ScopeTenant.
type TenantConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// Tenant is the tenant identifier (typically job.ScopeTenant).
	Tenant string

	// RateLimit is the sustained jobs per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant on this
	// queue. Zero means no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantState tracks runtime counters for a single queue+tenant pair.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// tenantKey builds the map key for a queue+tenant pair.
func tenantKey(queue, tenant string) string {
	return fmt.Sprintf("%s:%s", queue, tenant)
}

// SetTenantConfig configures rate limits and concurrency for a specific
// tenant on a specific queue. Calling this again for the same pair
// replaces the previous configuration; the active count is preserved.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.QueueName, cfg.Tenant)
	ts := &tenantState{
		maxConcurrency: cfg.MaxConcurrency,
		limiter:        newLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	if existing := m.tenants[key]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[key] = ts
}

// TenantActiveCount returns the current number of active jobs for a
// queue+tenant pair.
func (m *Manager) TenantActiveCount(queue, tenant string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantKey(queue, tenant)]; ts != nil {
		return ts.active
	}
	return 0
}
