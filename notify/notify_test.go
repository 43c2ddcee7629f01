package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/latchq/latch/job"
	"github.com/latchq/latch/notify"
	"github.com/latchq/latch/store/memory"
)

type recordingScheduler struct {
	batches [][]*job.JobSpec
	err     error
}

func (r *recordingScheduler) Schedule(_ context.Context, jobs ...*job.JobSpec) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, jobs)
	return nil
}

func TestSweepBroadcastsOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	a := job.New("a")
	b := job.New("b")
	for _, j := range []*job.JobSpec{a, b} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	sched := &recordingScheduler{}
	n := notify.New(s, slog.Default())
	n.Register(sched)

	n.Sweep(ctx)
	if len(sched.batches) != 1 || len(sched.batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2", sched.batches)
	}

	// Second sweep: jobs already marked notified, empty batch still sent.
	n.Sweep(ctx)
	if len(sched.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(sched.batches))
	}
	if len(sched.batches[1]) != 0 {
		t.Fatalf("second batch = %d jobs, want 0", len(sched.batches[1]))
	}
}

func TestSweepFansOutToAllSchedulers(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.CreateJob(ctx, job.New("a")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	one := &recordingScheduler{}
	two := &recordingScheduler{}
	n := notify.New(s, slog.Default())
	n.Register(one)
	n.Register(two)

	n.Sweep(ctx)
	if len(one.batches) != 1 || len(two.batches) != 1 {
		t.Fatalf("fan-out batches = %d/%d, want 1/1", len(one.batches), len(two.batches))
	}
}

func TestSweepRetriesAfterSchedulerFailure(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.CreateJob(ctx, job.New("a")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	sched := &recordingScheduler{err: errors.New("bridge down")}
	n := notify.New(s, slog.Default())
	n.Register(sched)

	// Rejected batch leaves the job unnotified.
	n.Sweep(ctx)
	if len(sched.batches) != 0 {
		t.Fatalf("batches = %d, want 0", len(sched.batches))
	}

	sched.err = nil
	n.Sweep(ctx)
	if len(sched.batches) != 1 || len(sched.batches[0]) != 1 {
		t.Fatalf("batches after recovery = %v, want one batch of 1", sched.batches)
	}
}

func TestSweepLimit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for range 5 {
		if err := s.CreateJob(ctx, job.New("bulk")); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	sched := &recordingScheduler{}
	n := notify.New(s, slog.Default(), notify.WithSweepLimit(2))
	n.Register(sched)

	n.Sweep(ctx)
	if len(sched.batches[0]) != 2 {
		t.Fatalf("batch = %d jobs, want 2", len(sched.batches[0]))
	}

	n.Sweep(ctx)
	n.Sweep(ctx)
	total := 0
	for _, b := range sched.batches {
		total += len(b)
	}
	if total != 5 {
		t.Fatalf("total delivered = %d, want 5", total)
	}
}
