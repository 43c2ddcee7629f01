package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
	"github.com/latchq/latch/store/memory"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger), WithoutMetrics(), WithoutTracing()}, opts...)
	e, err := New(memory.New(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, latch.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestSubmitEnqueuesJob(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	j, err := e.Submit(ctx, "send-email", job.WithInput(payload.Payload{"to": "a@b.c"}))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stored, err := e.Store().GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.State != job.StateEnqueued {
		t.Errorf("state = %s, want enqueued", stored.State)
	}
	if stored.Queue != "default" {
		t.Errorf("queue = %q, want default", stored.Queue)
	}
	if to, _ := stored.Input.String("to"); to != "a@b.c" {
		t.Errorf("input to = %q", to)
	}
}

func TestSubmitBlocksOnPendingPrerequisite(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	prereq, err := e.Submit(ctx, "step-one")
	if err != nil {
		t.Fatalf("Submit prereq: %v", err)
	}
	dep, err := e.Submit(ctx, "step-two", job.WithPrerequisites(prereq.ID))
	if err != nil {
		t.Fatalf("Submit dependent: %v", err)
	}

	stored, _ := e.Store().GetJob(ctx, dep.ID)
	if stored.State != job.StateBlocked {
		t.Errorf("state = %s, want blocked", stored.State)
	}
	prereqs, err := e.Store().Prerequisites(ctx, dep.ID)
	if err != nil {
		t.Fatalf("Prerequisites: %v", err)
	}
	if len(prereqs) != 1 || prereqs[0] != prereq.ID {
		t.Errorf("prerequisites = %v", prereqs)
	}
}

func TestSubmitWithSucceededPrerequisiteStartsRunnable(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	prereq, _ := e.Submit(ctx, "step-one")
	stored, _ := e.Store().GetJob(ctx, prereq.ID)
	stored.State = job.StateSucceeded
	if err := e.Store().UpdateJob(ctx, stored); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	before := time.Now().UTC()
	dep, err := e.Submit(ctx, "step-two", job.WithPrerequisites(prereq.ID))
	if err != nil {
		t.Fatalf("Submit dependent: %v", err)
	}

	got, _ := e.Store().GetJob(ctx, dep.ID)
	if got.State != job.StateEnqueued {
		t.Errorf("state = %s, want enqueued", got.State)
	}
	if got.PeriodStart.Before(before) {
		t.Errorf("period start %v not anchored at submission", got.PeriodStart)
	}
}

func TestSubmitRejectsPeriodicDependent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	prereq, _ := e.Submit(ctx, "step-one")
	_, err := e.Submit(ctx, "ticker",
		job.WithInterval(time.Hour),
		job.WithPrerequisites(prereq.ID),
	)
	if !errors.Is(err, latch.ErrPeriodicDependency) {
		t.Fatalf("err = %v, want ErrPeriodicDependency", err)
	}
}

func TestSubmitRejectsPeriodicPrerequisite(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	ticker, err := e.Submit(ctx, "ticker", job.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("Submit ticker: %v", err)
	}
	dep, err := e.Submit(ctx, "downstream", job.WithPrerequisites(ticker.ID))
	if !errors.Is(err, latch.ErrPeriodicDependency) {
		t.Fatalf("err = %v, want ErrPeriodicDependency", err)
	}
	if dep != nil {
		t.Error("dependent spec returned despite rejection")
	}

	count, _ := e.Store().CountJobs(ctx, job.CountOpts{})
	if count != 1 {
		t.Errorf("job count = %d, want 1 (rejected submit must not persist)", count)
	}
}

func TestSubmitClampsShortPeriodicInterval(t *testing.T) {
	e := newEngine(t)

	j, err := e.Submit(context.Background(), "ticker", job.WithInterval(time.Minute))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.Interval != job.MinPeriodicInterval {
		t.Errorf("interval = %v, want %v", j.Interval, job.MinPeriodicInterval)
	}
}

func TestExecuteRunsSubmittedJob(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.RegisterWorkerFunc("echo", func(_ context.Context, input payload.Payload) job.Result {
		return job.Success(input.Clone())
	})

	j, _ := e.Submit(ctx, "echo", job.WithInput(payload.Payload{"k": "v"}))
	outcome, err := e.Execute(ctx, j.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Success {
		t.Error("outcome.Success = false")
	}

	stored, _ := e.Store().GetJob(ctx, j.ID)
	if stored.State != job.StateSucceeded {
		t.Errorf("state = %s, want succeeded", stored.State)
	}
	if v, _ := stored.Output.String("k"); v != "v" {
		t.Errorf("output k = %q", v)
	}
}

type staticWorker struct {
	output payload.Payload
}

func (w *staticWorker) DoWork(_ context.Context, _ payload.Payload) job.Result {
	return job.Success(w.output.Clone())
}

type firstValueMerger struct{}

func (firstValueMerger) Merge(outputs []payload.Payload) payload.Payload {
	for _, out := range outputs {
		if out.Size() > 0 {
			return out.Clone()
		}
	}
	return nil
}

func TestRegisterWorkerAndMergerInstances(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.RegisterWorker("producer", &staticWorker{output: payload.Payload{"from": "instance"}})
	e.RegisterMerger("first-value", firstValueMerger{})
	e.RegisterWorkerFunc("echo", func(_ context.Context, input payload.Payload) job.Result {
		return job.Success(input.Clone())
	})

	prereq, err := e.Submit(ctx, "producer")
	if err != nil {
		t.Fatalf("Submit prereq: %v", err)
	}
	dep, err := e.Submit(ctx, "echo",
		job.WithPrerequisites(prereq.ID),
		job.WithMerger("first-value"),
	)
	if err != nil {
		t.Fatalf("Submit dependent: %v", err)
	}

	if _, err := e.Execute(ctx, prereq.ID); err != nil {
		t.Fatalf("Execute prereq: %v", err)
	}
	if _, err := e.Execute(ctx, dep.ID); err != nil {
		t.Fatalf("Execute dependent: %v", err)
	}

	got, _ := e.Store().GetJob(ctx, dep.ID)
	if got.State != job.StateSucceeded {
		t.Fatalf("state = %s, want succeeded", got.State)
	}
	if v, _ := got.Output.String("from"); v != "instance" {
		t.Errorf("output from = %q, want the instance worker's output", v)
	}
}

func TestCancelCascadesToDependents(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	a, _ := e.Submit(ctx, "step-one")
	b, _ := e.Submit(ctx, "step-two", job.WithPrerequisites(a.ID))
	c, _ := e.Submit(ctx, "step-three", job.WithPrerequisites(b.ID))

	if err := e.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	for _, spec := range []*job.JobSpec{a, b, c} {
		got, _ := e.Store().GetJob(ctx, spec.ID)
		if got.State != job.StateCancelled {
			t.Errorf("job %s state = %s, want cancelled", spec.ID, got.State)
		}
	}
}

func TestCancelLeavesFinishedJobsAlone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	a, _ := e.Submit(ctx, "step-one")
	stored, _ := e.Store().GetJob(ctx, a.ID)
	stored.State = job.StateSucceeded
	_ = e.Store().UpdateJob(ctx, stored)

	if err := e.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := e.Store().GetJob(ctx, a.ID)
	if got.State != job.StateSucceeded {
		t.Errorf("state = %s, want succeeded to stick", got.State)
	}
}

func TestReplayResubmitsDeadLetter(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.RegisterWorkerFunc("flaky", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Failure()
	})

	j, _ := e.Submit(ctx, "flaky", job.WithInput(payload.Payload{"n": 1}))
	if _, err := e.Execute(ctx, j.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	entries, err := e.DLQ().DLQStore().ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}

	replayed, err := e.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID == j.ID {
		t.Error("replay must mint a fresh job id")
	}
	got, _ := e.Store().GetJob(ctx, replayed.ID)
	if got.State != job.StateEnqueued {
		t.Errorf("state = %s, want enqueued", got.State)
	}
}

func TestEngineRunsJobsEndToEnd(t *testing.T) {
	e := newEngine(t,
		WithConcurrency(2),
		WithPollInterval(10*time.Millisecond),
		WithShutdownTimeout(time.Second),
	)
	ctx := context.Background()
	e.RegisterWorkerFunc("greet", func(_ context.Context, input payload.Payload) job.Result {
		name, _ := input.String("name")
		return job.Success(payload.Payload{"greeting": "hello " + name})
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := e.Stop(context.Background()); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	j, err := e.Submit(ctx, "greet", job.WithInput(payload.Payload{"name": "latch"}))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		got, err := e.Store().GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateSucceeded
	})

	got, _ := e.Store().GetJob(ctx, j.ID)
	if v, _ := got.Output.String("greeting"); v != "hello latch" {
		t.Errorf("greeting = %q", v)
	}
}

func TestEngineUnblocksDependentChain(t *testing.T) {
	e := newEngine(t,
		WithConcurrency(2),
		WithPollInterval(10*time.Millisecond),
		WithShutdownTimeout(time.Second),
	)
	ctx := context.Background()
	e.RegisterWorkerFunc("produce", func(_ context.Context, _ payload.Payload) job.Result {
		return job.Success(payload.Payload{"value": "from-prereq"})
	})
	e.RegisterWorkerFunc("consume", func(_ context.Context, input payload.Payload) job.Result {
		v, _ := input.String("value")
		return job.Success(payload.Payload{"seen": v})
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(context.Background())

	prereq, _ := e.Submit(ctx, "produce")
	dep, err := e.Submit(ctx, "consume", job.WithPrerequisites(prereq.ID))
	if err != nil {
		t.Fatalf("Submit dependent: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		got, err := e.Store().GetJob(ctx, dep.ID)
		return err == nil && got.State == job.StateSucceeded
	})

	got, _ := e.Store().GetJob(ctx, dep.ID)
	if v, _ := got.Output.String("seen"); v != "from-prereq" {
		t.Errorf("dependent saw %q, want prerequisite output", v)
	}
}
