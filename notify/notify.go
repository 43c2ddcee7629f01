// Package notify fans out newly runnable jobs to registered schedulers.
//
// A Scheduler is anything that can act on runnable work: the in-process
// worker pool, a remote bridge, a test double. After every execution
// pass the Notifier sweeps the store for runnable jobs that no scheduler
// has been told about yet and broadcasts them, so jobs unblocked by a
// prerequisite or re-armed for a new period are picked up exactly once.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
)

// DefaultSweepLimit bounds how many unnotified jobs a single sweep
// hands to schedulers.
const DefaultSweepLimit = 200

// Scheduler receives batches of runnable jobs. A batch may be empty,
// which still signals the scheduler to re-check its own sources.
type Scheduler interface {
	Schedule(ctx context.Context, jobs ...*job.JobSpec) error
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(ctx context.Context, jobs ...*job.JobSpec) error

// Schedule calls f.
func (f SchedulerFunc) Schedule(ctx context.Context, jobs ...*job.JobSpec) error {
	return f(ctx, jobs...)
}

// Notifier broadcasts runnable jobs to every registered scheduler and
// records which jobs have been handed out.
type Notifier struct {
	store      job.Store
	logger     *slog.Logger
	sweepLimit int
	schedulers []Scheduler
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSweepLimit caps the batch size of a single sweep.
func WithSweepLimit(n int) Option {
	return func(nf *Notifier) {
		if n > 0 {
			nf.sweepLimit = n
		}
	}
}

// New creates a Notifier backed by the given store.
func New(store job.Store, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		store:      store,
		logger:     logger,
		sweepLimit: DefaultSweepLimit,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register adds a scheduler. Not safe to call concurrently with Sweep;
// register everything before the engine starts.
func (n *Notifier) Register(s Scheduler) {
	n.schedulers = append(n.schedulers, s)
}

// Schedulers returns the registered schedulers.
func (n *Notifier) Schedulers() []Scheduler { return n.schedulers }

// Sweep collects runnable jobs that have not yet been handed to
// schedulers, broadcasts them, and marks them notified. Schedulers are
// invoked even when the batch is empty. Scheduler and store errors are
// logged, never propagated: a failed hand-off leaves the job unnotified
// so the next sweep retries it.
func (n *Notifier) Sweep(ctx context.Context) {
	specs, err := n.store.ListUnnotified(ctx, n.sweepLimit)
	if err != nil {
		n.logger.Error("notify sweep: list unnotified",
			slog.String("error", err.Error()))
		return
	}

	delivered := n.broadcast(ctx, specs)
	if len(delivered) == 0 {
		return
	}

	ids := make([]id.JobID, len(delivered))
	for i, j := range delivered {
		ids[i] = j.ID
	}
	if err := n.store.MarkNotified(ctx, ids, time.Now().UTC()); err != nil {
		n.logger.Error("notify sweep: mark notified",
			slog.String("error", err.Error()))
	}
}

// broadcast hands the batch to every scheduler and returns the jobs
// that at least one scheduler accepted. With no schedulers registered
// nothing is considered delivered.
func (n *Notifier) broadcast(ctx context.Context, specs []*job.JobSpec) []*job.JobSpec {
	if len(n.schedulers) == 0 {
		return nil
	}

	accepted := false
	for _, s := range n.schedulers {
		if err := s.Schedule(ctx, specs...); err != nil {
			n.logger.Warn("scheduler rejected batch",
				slog.Int("jobs", len(specs)),
				slog.String("error", err.Error()))
			continue
		}
		accepted = true
	}
	if !accepted {
		return nil
	}
	return specs
}
