package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestJobRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	notified := time.Now().UTC().Truncate(time.Millisecond)
	j := job.New("send-email",
		job.WithQueue("mail"),
		job.WithInput(payload.Payload{"to": "a@b.c", "n": float64(3)}),
		job.WithTimeout(30*time.Second),
	)
	j.ScopeTenant = "acme"
	j.NotifiedAt = &notified

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Worker != "send-email" || got.Queue != "mail" {
		t.Errorf("worker/queue = %s/%s", got.Worker, got.Queue)
	}
	if to, _ := got.Input.String("to"); to != "a@b.c" {
		t.Errorf("input to = %q", to)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", got.Timeout)
	}
	if got.ScopeTenant != "acme" {
		t.Errorf("tenant = %q", got.ScopeTenant)
	}
	if got.NotifiedAt == nil || !got.NotifiedAt.Equal(notified) {
		t.Errorf("notified at = %v, want %v", got.NotifiedAt, notified)
	}
	if !got.RunAt.Equal(j.RunAt.Truncate(time.Millisecond)) {
		t.Errorf("run at = %v, want %v", got.RunAt, j.RunAt)
	}
}

func TestCreateJobDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := job.New("w")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, latch.ErrJobAlreadyExists) {
		t.Fatalf("err = %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newStore(t)
	if _, err := s.GetJob(context.Background(), job.New("w").ID); !errors.Is(err, latch.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestUpdateJobPersistsStateAndOutput(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := job.New("w")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	j.State = job.StateSucceeded
	j.Output = payload.Payload{"result": "done"}
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.State != job.StateSucceeded {
		t.Errorf("state = %s", got.State)
	}
	if v, _ := got.Output.String("result"); v != "done" {
		t.Errorf("output result = %q", v)
	}
}

func TestDependencyEdgesKeepOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	dep := job.New("dependent")
	p1 := job.New("p1")
	p2 := job.New("p2")
	for _, j := range []*job.JobSpec{dep, p1, p2} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	for _, p := range []*job.JobSpec{p1, p2} {
		d := job.Dependency{DependentID: dep.ID, PrerequisiteID: p.ID}
		if err := s.AddDependency(ctx, d); err != nil {
			t.Fatalf("AddDependency: %v", err)
		}
	}

	prereqs, err := s.Prerequisites(ctx, dep.ID)
	if err != nil {
		t.Fatalf("Prerequisites: %v", err)
	}
	if len(prereqs) != 2 || prereqs[0] != p1.ID || prereqs[1] != p2.ID {
		t.Errorf("prerequisites = %v", prereqs)
	}

	ok, err := s.AllPrerequisitesSucceeded(ctx, dep.ID)
	if err != nil {
		t.Fatalf("AllPrerequisitesSucceeded: %v", err)
	}
	if ok {
		t.Error("unmet prerequisites reported satisfied")
	}

	for _, p := range []*job.JobSpec{p1, p2} {
		p.State = job.StateSucceeded
		p.Output = payload.Payload{"from": p.Worker}
		if err := s.UpdateJob(ctx, p); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
	}

	ok, _ = s.AllPrerequisitesSucceeded(ctx, dep.ID)
	if !ok {
		t.Error("satisfied prerequisites reported unmet")
	}

	outputs, err := s.PrerequisiteOutputs(ctx, dep.ID)
	if err != nil {
		t.Fatalf("PrerequisiteOutputs: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outputs))
	}
	if v, _ := outputs[0].String("from"); v != "p1" {
		t.Errorf("first output from = %q, want p1", v)
	}
}

func TestListEligible(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := job.New("due")
	future := job.New("future", job.WithRunAt(now.Add(time.Hour)))
	otherQueue := job.New("other", job.WithQueue("slow"))
	periodicDue := job.New("tick", job.WithInterval(time.Hour))
	periodicDue.PeriodStart = now.Add(-2 * time.Hour)
	periodicNotDue := job.New("tock", job.WithInterval(time.Hour))
	periodicNotDue.PeriodStart = now.Add(-time.Minute)

	for _, j := range []*job.JobSpec{due, future, otherQueue, periodicDue, periodicNotDue} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	eligible, err := s.ListEligible(ctx, []string{"default"}, now, 10)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}

	got := map[string]bool{}
	for _, j := range eligible {
		got[j.Worker] = true
	}
	if !got["due"] || !got["tick"] {
		t.Errorf("eligible = %v, want due and tick", got)
	}
	if got["future"] || got["other"] || got["tock"] {
		t.Errorf("eligible = %v, includes jobs that are not due", got)
	}
}

func TestListUnnotifiedAndMark(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := job.New("a")
	b := job.New("b")
	for _, j := range []*job.JobSpec{a, b} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	batch, err := s.ListUnnotified(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnnotified: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("unnotified = %d, want 2", len(batch))
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.MarkNotified(ctx, []id.JobID{a.ID}, at); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	batch, _ = s.ListUnnotified(ctx, 10)
	if len(batch) != 1 || batch[0].ID != b.ID {
		t.Fatalf("unnotified after mark = %v", batch)
	}

	got, _ := s.GetJob(ctx, a.ID)
	if got.NotifiedAt == nil || !got.NotifiedAt.Equal(at) {
		t.Errorf("notified at = %v, want %v", got.NotifiedAt, at)
	}
}

func TestHeartbeatAndReapStaleJobs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	stale := now.Add(-time.Hour)

	abandoned := job.New("crashed", job.WithInitialState(job.StateRunning))
	abandoned.StartedAt = &stale
	abandoned.HeartbeatAt = &stale
	healthy := job.New("alive", job.WithInitialState(job.StateRunning))
	healthy.StartedAt = &stale
	healthy.HeartbeatAt = &stale
	idle := job.New("waiting")
	for _, j := range []*job.JobSpec{abandoned, healthy, idle} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	if err := s.HeartbeatJob(ctx, healthy.ID, now); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	got, _ := s.GetJob(ctx, healthy.ID)
	if got.HeartbeatAt == nil || !got.HeartbeatAt.Equal(now) {
		t.Errorf("heartbeat at = %v, want %v", got.HeartbeatAt, now)
	}

	// Heartbeats only land on running jobs.
	if err := s.HeartbeatJob(ctx, idle.ID, now); err != nil {
		t.Fatalf("HeartbeatJob on enqueued job: %v", err)
	}
	if got, _ := s.GetJob(ctx, idle.ID); got.HeartbeatAt != nil {
		t.Error("heartbeat stamped a non-running job")
	}

	reaped, err := s.ReapStaleJobs(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != abandoned.ID {
		t.Fatalf("reaped %d jobs, want just the abandoned one", len(reaped))
	}
}

func TestAtomicallyRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	j := job.New("w")
	err := s.Atomically(ctx, func(tx job.Ops) error {
		if err := tx.CreateJob(ctx, j); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, latch.ErrJobNotFound) {
		t.Fatalf("rolled-back job still visible: %v", err)
	}
}

func TestDLQRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := job.New("flaky", job.WithInput(payload.Payload{"n": float64(1)}))
	svc := dlq.NewService(s, s)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := svc.Push(ctx, j, errors.New("exploded")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Error != "exploded" || entries[0].JobID != j.ID {
		t.Errorf("entry = %+v", entries[0])
	}

	replayed, err := svc.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID == j.ID {
		t.Error("replay must mint a fresh id")
	}

	got, _ := s.GetDLQ(ctx, entries[0].ID)
	if got.ReplayedAt == nil {
		t.Error("replayed entry not marked")
	}

	count, _ := s.CountDLQ(ctx)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	purged, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}
