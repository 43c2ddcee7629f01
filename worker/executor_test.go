package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/backoff"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/ext"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/merger"
	"github.com/latchq/latch/notify"
	"github.com/latchq/latch/payload"
	"github.com/latchq/latch/store/memory"
	"github.com/latchq/latch/worker"
)

// recordedCall captures one listener invocation.
type recordedCall struct {
	jobID   id.JobID
	outcome worker.Outcome
}

type recordingListener struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *recordingListener) OnExecuted(jobID id.JobID, outcome worker.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{jobID, outcome})
}

func (r *recordingListener) last(t *testing.T) recordedCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatal("listener never called")
	}
	return r.calls[len(r.calls)-1]
}

type recordingScheduler struct {
	mu      sync.Mutex
	batches [][]*job.JobSpec
}

func (r *recordingScheduler) Schedule(_ context.Context, jobs ...*job.JobSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, jobs)
	return nil
}

func (r *recordingScheduler) sawJob(jobID id.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, batch := range r.batches {
		for _, j := range batch {
			if j.ID == jobID {
				return true
			}
		}
	}
	return false
}

// harness wires an executor against the in-memory store.
type harness struct {
	store     *memory.Store
	workers   *job.Registry
	executor  *worker.Executor
	listener  *recordingListener
	scheduler *recordingScheduler
	dlqSvc    *dlq.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s := memory.New()
	workers := job.NewRegistry()
	logger := slog.Default()

	notifier := notify.New(s, logger)
	sched := &recordingScheduler{}
	notifier.Register(sched)

	dlqSvc := dlq.NewService(s, s)

	exec := worker.NewExecutor(
		workers,
		merger.NewRegistry(),
		ext.NewRegistry(logger),
		s,
		dlqSvc,
		notifier,
		backoff.NewConstant(time.Minute),
		logger,
	)
	listener := &recordingListener{}
	exec.AddListener(listener)

	workers.RegisterFunc("success-worker", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Success(payload.Payload{"result": "ok"})
	})
	workers.RegisterFunc("failure-worker", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Failure()
	})
	workers.RegisterFunc("retry-worker", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Retry()
	})

	return &harness{
		store:     s,
		workers:   workers,
		executor:  exec,
		listener:  listener,
		scheduler: sched,
		dlqSvc:    dlqSvc,
	}
}

func (h *harness) submit(t *testing.T, j *job.JobSpec) {
	t.Helper()
	if err := h.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
}

func (h *harness) addDep(t *testing.T, dependent, prerequisite id.JobID) {
	t.Helper()
	d := job.Dependency{DependentID: dependent, PrerequisiteID: prerequisite}
	if err := h.store.AddDependency(context.Background(), d); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
}

func (h *harness) mustGet(t *testing.T, jobID id.JobID) *job.JobSpec {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func TestExecuteSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("success-worker")
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Success || outcome.Reschedule {
		t.Fatalf("outcome = %+v, want success without reschedule", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateSucceeded {
		t.Errorf("state = %q, want succeeded", got.State)
	}
	if got.RunAttemptCount != 1 {
		t.Errorf("attempts = %d, want 1", got.RunAttemptCount)
	}
	if v, _ := got.Output.String("result"); v != "ok" {
		t.Errorf("output = %v", got.Output)
	}
	if got.CompletedAt == nil || got.StartedAt == nil {
		t.Error("StartedAt/CompletedAt not recorded")
	}

	call := h.listener.last(t)
	if call.jobID != j.ID || !call.outcome.Success || call.outcome.Reschedule {
		t.Errorf("listener call = %+v", call)
	}
}

func TestExecuteFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("failure-worker")
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Success || outcome.Reschedule {
		t.Fatalf("outcome = %+v, want permanent failure", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.LastError == "" {
		t.Error("LastError not recorded")
	}

	// Terminal failure lands in the DLQ.
	n, err := h.store.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 1 {
		t.Errorf("DLQ entries = %d, want 1", n)
	}
}

func TestExecuteRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("retry-worker")
	h.submit(t, j)

	before := time.Now().UTC()
	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Success || !outcome.Reschedule {
		t.Fatalf("outcome = %+v, want reschedule", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateEnqueued {
		t.Errorf("state = %q, want enqueued", got.State)
	}
	// The attempt charged for this run is kept on retry.
	if got.RunAttemptCount != 1 {
		t.Errorf("attempts = %d, want 1", got.RunAttemptCount)
	}
	if !got.RunAt.After(before) {
		t.Errorf("RunAt = %v, want backed off past %v", got.RunAt, before)
	}
	if got.NotifiedAt != nil {
		t.Error("retried job should be unnotified so the next sweep hands it out")
	}
}

func TestExecuteRetryAccumulatesAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("retry-worker")
	h.submit(t, j)

	for range 2 {
		if _, err := h.executor.Execute(ctx, j.ID); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	got := h.mustGet(t, j.ID)
	if got.RunAttemptCount != 2 {
		t.Errorf("attempts = %d, want 2", got.RunAttemptCount)
	}
}

func TestExecuteRejectsNotEnqueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("success-worker", job.WithInitialState(job.StateRunning))
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Success || outcome.Reschedule {
		t.Fatalf("outcome = %+v, want zero outcome", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateRunning {
		t.Errorf("state = %q, want running (untouched)", got.State)
	}
	if got.RunAttemptCount != 0 {
		t.Errorf("attempts = %d, want 0 (no attempt charged)", got.RunAttemptCount)
	}
}

func TestExecuteJobNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.executor.Execute(context.Background(), id.NewJobID())
	if !errors.Is(err, latch.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	call := h.listener.last(t)
	if call.outcome.Success || call.outcome.Reschedule {
		t.Errorf("listener outcome = %+v, want zero", call.outcome)
	}
}

func TestExecuteUnregisteredWorkerFailsPermanently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("nobody-home")
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Success || outcome.Reschedule {
		t.Fatalf("outcome = %+v, want permanent failure", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
}

func TestPeriodicSuccessReArms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	anchor := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	j := job.New("success-worker",
		job.WithInterval(time.Hour),
		job.WithPeriodStart(anchor),
	)
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Success || outcome.Reschedule {
		t.Fatalf("outcome = %+v, want success without reschedule", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateEnqueued {
		t.Errorf("state = %q, want enqueued (re-armed)", got.State)
	}
	if got.RunAttemptCount != 0 {
		t.Errorf("attempts = %d, want 0 (reset on re-arm)", got.RunAttemptCount)
	}
	want := anchor.Add(time.Hour)
	if !got.PeriodStart.Equal(want) {
		t.Errorf("PeriodStart = %v, want advanced exactly one period to %v", got.PeriodStart, want)
	}
}

func TestPeriodicFailureReArmsWithoutCascade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	anchor := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Millisecond)
	j := job.New("failure-worker",
		job.WithInterval(time.Hour),
		job.WithPeriodStart(anchor),
	)
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Success {
		t.Fatalf("outcome = %+v, want failure", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateEnqueued {
		t.Errorf("state = %q, want enqueued (failed runs re-arm too)", got.State)
	}
	if got.RunAttemptCount != 0 {
		t.Errorf("attempts = %d, want 0", got.RunAttemptCount)
	}
	// Exactly one period advanced, not caught up to now.
	want := anchor.Add(time.Hour)
	if !got.PeriodStart.Equal(want) {
		t.Errorf("PeriodStart = %v, want %v", got.PeriodStart, want)
	}
	if n, _ := h.store.CountDLQ(ctx); n != 0 {
		t.Errorf("DLQ entries = %d, want 0 for periodic failure", n)
	}
}

func TestPeriodicRetryKeepsAnchorAndAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	anchor := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	j := job.New("retry-worker",
		job.WithInterval(time.Hour),
		job.WithPeriodStart(anchor),
	)
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Reschedule {
		t.Fatalf("outcome = %+v, want reschedule", outcome)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateEnqueued {
		t.Errorf("state = %q, want enqueued", got.State)
	}
	if got.RunAttemptCount != 1 {
		t.Errorf("attempts = %d, want 1 (kept on retry)", got.RunAttemptCount)
	}
	if !got.PeriodStart.Equal(anchor) {
		t.Errorf("PeriodStart = %v, want unchanged %v", got.PeriodStart, anchor)
	}
}

func TestSuccessUnblocksDependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pre := job.New("success-worker")
	dep := job.New("success-worker", job.WithInitialState(job.StateBlocked))
	h.submit(t, pre)
	h.submit(t, dep)
	h.addDep(t, dep.ID, pre.ID)

	before := time.Now().UTC()
	if _, err := h.executor.Execute(ctx, pre.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.mustGet(t, dep.ID)
	if got.State != job.StateEnqueued {
		t.Fatalf("dependent state = %q, want enqueued", got.State)
	}
	// Unblocked dependents are scheduled from the unblock moment.
	if got.PeriodStart.Before(before) || got.PeriodStart.After(time.Now().UTC()) {
		t.Errorf("dependent PeriodStart = %v, want ~unblock time", got.PeriodStart)
	}

	// The sweep after the execution handed the dependent to schedulers.
	if !h.scheduler.sawJob(dep.ID) {
		t.Error("scheduler never saw the unblocked dependent")
	}
}

func TestDependentStaysBlockedUntilAllPrerequisitesSucceed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pre1 := job.New("success-worker")
	pre2 := job.New("success-worker")
	dep := job.New("success-worker", job.WithInitialState(job.StateBlocked))
	for _, j := range []*job.JobSpec{pre1, pre2, dep} {
		h.submit(t, j)
	}
	h.addDep(t, dep.ID, pre1.ID)
	h.addDep(t, dep.ID, pre2.ID)

	if _, err := h.executor.Execute(ctx, pre1.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := h.mustGet(t, dep.ID); got.State != job.StateBlocked {
		t.Fatalf("dependent state = %q after first prerequisite, want blocked", got.State)
	}

	if _, err := h.executor.Execute(ctx, pre2.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := h.mustGet(t, dep.ID); got.State != job.StateEnqueued {
		t.Fatalf("dependent state = %q after all prerequisites, want enqueued", got.State)
	}
}

func TestFailureCascadesToTransitiveDependents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := job.New("failure-worker")
	b := job.New("success-worker", job.WithInitialState(job.StateBlocked))
	c := job.New("success-worker", job.WithInitialState(job.StateBlocked))
	cancelled := job.New("success-worker", job.WithInitialState(job.StateCancelled))
	for _, j := range []*job.JobSpec{a, b, c, cancelled} {
		h.submit(t, j)
	}
	h.addDep(t, b.ID, a.ID)
	h.addDep(t, c.ID, b.ID)
	h.addDep(t, cancelled.ID, a.ID)

	if _, err := h.executor.Execute(ctx, a.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	for _, tc := range []struct {
		name string
		id   id.JobID
		want job.State
	}{
		{"root", a.ID, job.StateFailed},
		{"direct dependent", b.ID, job.StateFailed},
		{"transitive dependent", c.ID, job.StateFailed},
		{"cancelled dependent", cancelled.ID, job.StateCancelled},
	} {
		if got := h.mustGet(t, tc.id); got.State != tc.want {
			t.Errorf("%s state = %q, want %q", tc.name, got.State, tc.want)
		}
	}
}

func TestCascadeVisitsDiamondOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// a -> b, a -> c, b -> d, c -> d.
	a := job.New("failure-worker")
	b := job.New("success-worker", job.WithInitialState(job.StateBlocked))
	c := job.New("success-worker", job.WithInitialState(job.StateBlocked))
	d := job.New("success-worker", job.WithInitialState(job.StateBlocked))
	for _, j := range []*job.JobSpec{a, b, c, d} {
		h.submit(t, j)
	}
	h.addDep(t, b.ID, a.ID)
	h.addDep(t, c.ID, a.ID)
	h.addDep(t, d.ID, b.ID)
	h.addDep(t, d.ID, c.ID)

	if _, err := h.executor.Execute(ctx, a.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, jid := range []id.JobID{b.ID, c.ID, d.ID} {
		if got := h.mustGet(t, jid); got.State != job.StateFailed {
			t.Errorf("job %s state = %q, want failed", jid, got.State)
		}
	}
}

func TestOverlayMergerBuildsInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var received payload.Payload
	h.workers.RegisterFunc("capture-worker", func(_ context.Context, input payload.Payload) job.Result {
		received = input
		return job.Success(nil)
	})
	h.workers.RegisterFunc("emit-one", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Success(payload.Payload{"key": "value1"})
	})
	h.workers.RegisterFunc("emit-two", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Success(payload.Payload{"key": "value2"})
	})

	pre1 := job.New("emit-one")
	pre2 := job.New("emit-two")
	dep := job.New("capture-worker",
		job.WithInitialState(job.StateBlocked),
		job.WithInput(payload.Payload{"key": "value0", "own": "kept"}),
	)
	for _, j := range []*job.JobSpec{pre1, pre2, dep} {
		h.submit(t, j)
	}
	h.addDep(t, dep.ID, pre1.ID)
	h.addDep(t, dep.ID, pre2.ID)

	for _, jid := range []id.JobID{pre1.ID, pre2.ID, dep.ID} {
		if _, err := h.executor.Execute(ctx, jid); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	if received == nil {
		t.Fatal("capture worker never ran")
	}
	// Later outputs overwrite earlier ones; encounter order is declared
	// input first, then prerequisite outputs in edge order.
	if v, _ := received.String("key"); v != "value2" {
		t.Errorf("key = %q, want value2", v)
	}
	if v, _ := received.String("own"); v != "kept" {
		t.Errorf("own = %q, want kept", v)
	}
}

func TestArrayMergerCollectsConflictingValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var received payload.Payload
	h.workers.RegisterFunc("capture-worker", func(_ context.Context, input payload.Payload) job.Result {
		received = input
		return job.Success(nil)
	})
	h.workers.RegisterFunc("emit-one", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Success(payload.Payload{"key": "value1"})
	})
	h.workers.RegisterFunc("emit-two", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Success(payload.Payload{"key": "value2"})
	})

	pre1 := job.New("emit-one")
	pre2 := job.New("emit-two")
	dep := job.New("capture-worker",
		job.WithInitialState(job.StateBlocked),
		job.WithMerger(merger.NameArrayCreating),
	)
	for _, j := range []*job.JobSpec{pre1, pre2, dep} {
		h.submit(t, j)
	}
	h.addDep(t, dep.ID, pre1.ID)
	h.addDep(t, dep.ID, pre2.ID)

	for _, jid := range []id.JobID{pre1.ID, pre2.ID, dep.ID} {
		if _, err := h.executor.Execute(ctx, jid); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	if received == nil {
		t.Fatal("capture worker never ran")
	}
	if received.Size() != 1 {
		t.Fatalf("merged input has %d keys, want 1: %v", received.Size(), received)
	}
	vals, ok := received.Strings("key")
	if !ok {
		t.Fatalf("key is not a string array: %v", received["key"])
	}
	if len(vals) != 2 || vals[0] != "value1" || vals[1] != "value2" {
		t.Errorf("key = %v, want [value1 value2] in encounter order", vals)
	}
}

func TestCancelledWhileRunningIsSticky(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("self-cancel")
	h.submit(t, j)

	h.workers.RegisterFunc("self-cancel", func(_ context.Context, _ payload.Payload) job.Result {
		// Simulate a concurrent Cancel landing mid-run.
		got, err := h.store.GetJob(ctx, j.ID)
		if err != nil {
			t.Errorf("GetJob: %v", err)
			return job.Failure()
		}
		got.State = job.StateCancelled
		if err := h.store.UpdateJob(ctx, got); err != nil {
			t.Errorf("UpdateJob: %v", err)
		}
		return job.Success(nil)
	})

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Success || outcome.Reschedule {
		t.Fatalf("outcome = %+v, want zero for cancelled job", outcome)
	}
	if got := h.mustGet(t, j.ID); got.State != job.StateCancelled {
		t.Errorf("state = %q, cancellation must stick", got.State)
	}
}

func TestExecuteCancelledJobStaysCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("success-worker", job.WithInitialState(job.StateCancelled))
	h.submit(t, j)

	outcome, err := h.executor.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != (worker.Outcome{}) {
		t.Fatalf("outcome = %+v, want zero outcome", outcome)
	}
	call := h.listener.last(t)
	if call.jobID != j.ID || call.outcome != (worker.Outcome{}) {
		t.Fatalf("listener call = %+v, want zero outcome for %s", call, j.ID)
	}

	got := h.mustGet(t, j.ID)
	if got.State != job.StateCancelled {
		t.Errorf("state = %q, want cancelled", got.State)
	}
	if got.RunAttemptCount != 0 {
		t.Errorf("attempts = %d, want 0 (no attempt charged)", got.RunAttemptCount)
	}
}

func TestSweepNotifiesSchedulersAfterSettledPass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := job.New("success-worker")
	h.submit(t, j)

	if _, err := h.executor.Execute(ctx, j.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	h.scheduler.mu.Lock()
	defer h.scheduler.mu.Unlock()
	if len(h.scheduler.batches) == 0 {
		t.Fatal("schedulers not notified after execution pass")
	}
}

func TestRejectedExecutionSkipsSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cancelled := job.New("success-worker", job.WithInitialState(job.StateCancelled))
	h.submit(t, cancelled)
	idle := job.New("success-worker", job.WithRunAt(time.Now().UTC().Add(time.Hour)))
	h.submit(t, idle)

	if _, err := h.executor.Execute(ctx, cancelled.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.scheduler.sawJob(idle.ID) {
		t.Fatal("rejected pass must not trigger a sweep")
	}

	runnable := job.New("success-worker")
	h.submit(t, runnable)
	if _, err := h.executor.Execute(ctx, runnable.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !h.scheduler.sawJob(idle.ID) {
		t.Fatal("settled pass must sweep pending jobs to the schedulers")
	}
}
