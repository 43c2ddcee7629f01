// Package worker provides the job execution engine — an Executor that
// claims a job, runs its worker through middleware, and settles the
// outcome (success, permanent failure, retry, periodic re-arm), and a
// Pool that manages concurrent goroutines polling for eligible jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/backoff"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/ext"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/merger"
	"github.com/latchq/latch/middleware"
	"github.com/latchq/latch/notify"
	"github.com/latchq/latch/payload"
	"github.com/latchq/latch/scope"
)

// Outcome reports how an execution attempt settled. Ran means the job
// was claimed and the attempt's result was recorded; a zero Outcome is
// a precondition rejection (or an attempt whose job was cancelled out
// from under it). Success means the job reached StateSucceeded.
// Reschedule means the job went back to the queue for another attempt
// (retry backoff); periodic re-arms do not count as reschedules.
type Outcome struct {
	Ran        bool
	Success    bool
	Reschedule bool
}

// ExecutionListener observes settled execution attempts, including
// attempts rejected before the worker ran.
type ExecutionListener interface {
	OnExecuted(jobID id.JobID, outcome Outcome)
}

// ListenerFunc adapts a function to ExecutionListener.
type ListenerFunc func(jobID id.JobID, outcome Outcome)

// OnExecuted implements ExecutionListener.
func (f ListenerFunc) OnExecuted(jobID id.JobID, outcome Outcome) { f(jobID, outcome) }

// Executor runs a single job through middleware and the resolved worker,
// then settles state transitions, dependency unblocking, failure
// propagation, DLQ push, and lifecycle events.
type Executor struct {
	workers    *job.Registry
	mergers    *merger.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	notifier   *notify.Notifier
	backoff    backoff.Strategy
	mw         middleware.Middleware
	listeners  []ExecutionListener
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	workers *job.Registry,
	mergers *merger.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	notifier *notify.Notifier,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Executor{
		workers:    workers,
		mergers:    mergers,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		notifier:   notifier,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// AddListener registers an execution listener. Not safe to call
// concurrently with Execute.
func (e *Executor) AddListener(l ExecutionListener) {
	e.listeners = append(e.listeners, l)
}

// Execute claims the job, runs it, and settles the outcome.
//
// A job that is not in StateEnqueued when claimed is rejected without
// / running: the listener fires with a zero Outcome and Execute returns no
// error. After every settled attempt the notifier sweeps, so jobs
// unblocked or re-armed by this execution reach the schedulers;
// rejections skip the sweep since they change no state.
func (e *Executor) Execute(ctx context.Context, jobID id.JobID) (Outcome, error) {
	outcome, err := e.execute(ctx, jobID)
	for _, l := range e.listeners {
		l.OnExecuted(jobID, outcome)
	}
	if e.notifier != nil && outcome.Ran {
		e.notifier.Sweep(ctx)
	}
	return outcome, err
}

func (e *Executor) execute(ctx context.Context, jobID id.JobID) (Outcome, error) {
	j, claimed, err := e.claim(ctx, jobID)
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		e.logger.Debug("job not runnable, skipping",
			slog.String("job_id", jobID.String()),
			slog.String("state", string(j.State)),
		)
		return Outcome{}, nil
	}

	e.extensions.EmitJobStarted(ctx, j)

	w, ok := e.workers.Resolve(j.Worker)
	if !ok {
		err := fmt.Errorf("%w: worker %q", latch.ErrWorkerNotFound, j.Worker)
		return e.settleFailure(ctx, j, err)
	}

	input, err := e.buildInput(ctx, j)
	if err != nil {
		return e.settleFailure(ctx, j, err)
	}

	res, runErr := e.run(ctx, j, w, input)

	switch {
	case runErr != nil:
		return e.settleFailure(ctx, j, runErr)
	case res.IsRetry():
		return e.settleRetry(ctx, j)
	case res.IsFailure():
		return e.settleFailure(ctx, j, fmt.Errorf("worker %q reported failure", j.Worker))
	default:
		return e.settleSuccess(ctx, j, res.Output)
	}
}

// claim transitions an enqueued job to StateRunning and charges one run
// attempt. Returns claimed=false when the job exists but is not
// runnable.
func (e *Executor) claim(ctx context.Context, jobID id.JobID) (*job.JobSpec, bool, error) {
	var j *job.JobSpec
	claimed := false

	err := e.store.Atomically(ctx, func(tx job.Ops) error {
		var err error
		j, err = tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.State != job.StateEnqueued {
			return nil
		}

		now := time.Now().UTC()
		j.State = job.StateRunning
		j.RunAttemptCount++
		j.StartedAt = &now
		j.HeartbeatAt = &now
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return j, claimed, nil
}

// buildInput computes the effective input for this attempt. Periodic
// jobs always run with their declared input. One-shot jobs with
// prerequisites run with the merger applied to the declared input
// followed by prerequisite outputs in edge order.
func (e *Executor) buildInput(ctx context.Context, j *job.JobSpec) (payload.Payload, error) {
	if j.IsPeriodic() {
		return j.Input, nil
	}

	prereqs, err := e.store.Prerequisites(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if len(prereqs) == 0 {
		return j.Input, nil
	}

	m, ok := e.mergers.Resolve(j.Merger)
	if !ok {
		return nil, fmt.Errorf("%w: merger %q", latch.ErrMergerNotFound, j.Merger)
	}

	outputs, err := e.store.PrerequisiteOutputs(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	inputs := make([]payload.Payload, 0, len(outputs)+1)
	inputs = append(inputs, j.Input)
	inputs = append(inputs, outputs...)
	return m.Merge(inputs), nil
}

// run invokes the worker through the middleware chain with the job's
// tenant restored on the context.
func (e *Executor) run(ctx context.Context, j *job.JobSpec, w job.Worker, input payload.Payload) (job.Result, error) {
	ctx = scope.Restore(ctx, j.ScopeTenant)
	return e.mw(ctx, j, func(ctx context.Context) (job.Result, error) {
		return w.DoWork(ctx, input), nil
	})
}

// settleSuccess persists the terminal success (or periodic re-arm) and
// unblocks dependents whose prerequisites are now all satisfied. All
// writes for one success land in a single transaction so a reader never
// sees an enqueued dependent without its prerequisite's output.
func (e *Executor) settleSuccess(ctx context.Context, j *job.JobSpec, output payload.Payload) (Outcome, error) {
	if j.IsPeriodic() {
		return e.rearmPeriodic(ctx, j, true, "")
	}

	var unblocked []*job.JobSpec
	err := e.store.Atomically(ctx, func(tx job.Ops) error {
		unblocked = unblocked[:0]

		current, err := tx.GetState(ctx, j.ID)
		if err != nil {
			return err
		}
		if current != job.StateRunning {
			// Cancelled out from under us; leave it alone.
			return nil
		}

		now := time.Now().UTC()
		j.State = job.StateSucceeded
		j.Output = output
		j.LastError = ""
		j.CompletedAt = &now
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}

		dependents, err := tx.Dependents(ctx, j.ID)
		if err != nil {
			return err
		}
		for _, depID := range dependents {
			dep, err := tx.GetJob(ctx, depID)
			if err != nil {
				return err
			}
			if dep.State != job.StateBlocked {
				continue
			}
			ready, err := tx.AllPrerequisitesSucceeded(ctx, depID)
			if err != nil {
				return err
			}
			if !ready {
				continue
			}
			// Unblocked dependents are scheduled from the unblock
			// moment, not from their creation time.
			dep.State = job.StateEnqueued
			dep.PeriodStart = now
			dep.NotifiedAt = nil
			if err := tx.UpdateJob(ctx, dep); err != nil {
				return err
			}
			unblocked = append(unblocked, dep)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if j.State != job.StateSucceeded {
		return Outcome{}, nil
	}

	for _, dep := range unblocked {
		e.extensions.EmitJobUnblocked(ctx, dep)
	}
	e.extensions.EmitJobExecuted(ctx, j, true, false)
	return Outcome{Ran: true, Success: true}, nil
}

// settleRetry returns the job to the queue for another attempt. The run
// attempt count charged at claim time is kept and the period anchor of
// a periodic job is untouched.
func (e *Executor) settleRetry(ctx context.Context, j *job.JobSpec) (Outcome, error) {
	delay := e.backoff.Delay(j.RunAttemptCount)
	nextRunAt := time.Now().UTC().Add(delay)

	settled := false
	err := e.store.Atomically(ctx, func(tx job.Ops) error {
		current, err := tx.GetState(ctx, j.ID)
		if err != nil {
			return err
		}
		if current != job.StateRunning {
			return nil
		}
		j.State = job.StateEnqueued
		j.RunAt = nextRunAt
		j.NotifiedAt = nil
		j.HeartbeatAt = nil
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !settled {
		return Outcome{}, nil
	}

	e.extensions.EmitJobRetrying(ctx, j, j.RunAttemptCount, nextRunAt)
	e.extensions.EmitJobExecuted(ctx, j, false, true)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("worker", j.Worker),
		slog.Int("attempt", j.RunAttemptCount),
		slog.Duration("delay", delay),
	)
	return Outcome{Ran: true, Reschedule: true}, nil
}

// settleFailure marks the job failed (or re-arms it when periodic),
// cascades the failure to transitive dependents, and pushes a DLQ entry.
func (e *Executor) settleFailure(ctx context.Context, j *job.JobSpec, runErr error) (Outcome, error) {
	if j.IsPeriodic() {
		return e.rearmPeriodic(ctx, j, false, runErr.Error())
	}

	settled := false
	err := e.store.Atomically(ctx, func(tx job.Ops) error {
		current, err := tx.GetState(ctx, j.ID)
		if err != nil {
			return err
		}
		if current != job.StateRunning {
			return nil
		}
		now := time.Now().UTC()
		j.State = job.StateFailed
		j.LastError = runErr.Error()
		j.CompletedAt = &now
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !settled {
		return Outcome{}, nil
	}

	if cascadeErr := e.failDependents(ctx, j.ID, runErr); cascadeErr != nil {
		e.logger.Error("failure cascade incomplete",
			slog.String("job_id", j.ID.String()),
			slog.String("error", cascadeErr.Error()),
		)
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, runErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		} else {
			e.extensions.EmitJobDLQ(ctx, j, runErr)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, runErr)
	e.extensions.EmitJobExecuted(ctx, j, false, false)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("worker", j.Worker),
		slog.Int("attempt", j.RunAttemptCount),
		slog.String("error", runErr.Error()),
	)
	return Outcome{Ran: true}, nil
}

// failDependents walks the dependency graph breadth-first from the
// failed job, marking every transitive dependent failed. Each dependent
// is settled in its own transaction and visited at most once; cancelled
// and already-terminal jobs are left untouched.
func (e *Executor) failDependents(ctx context.Context, jobID id.JobID, cause error) error {
	visited := map[id.JobID]bool{jobID: true}
	queue := []id.JobID{jobID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dependents, err := e.store.Dependents(ctx, current)
		if err != nil {
			return err
		}
		for _, depID := range dependents {
			if visited[depID] {
				continue
			}
			visited[depID] = true

			var failed *job.JobSpec
			err := e.store.Atomically(ctx, func(tx job.Ops) error {
				dep, err := tx.GetJob(ctx, depID)
				if err != nil {
					return err
				}
				if dep.State == job.StateCancelled || dep.State == job.StateFailed {
					return nil
				}
				now := time.Now().UTC()
				dep.State = job.StateFailed
				dep.LastError = fmt.Sprintf("prerequisite failed: %s", cause)
				dep.CompletedAt = &now
				if err := tx.UpdateJob(ctx, dep); err != nil {
					return err
				}
				failed = dep
				return nil
			})
			if err != nil {
				return err
			}
			if failed != nil {
				e.extensions.EmitJobFailed(ctx, failed, cause)
			}
			queue = append(queue, depID)
		}
	}
	return nil
}

// rearmPeriodic advances a periodic job exactly one period and resets
// its attempt counter, regardless of whether the run succeeded. Overdue
// jobs do not catch up missed periods.
func (e *Executor) rearmPeriodic(ctx context.Context, j *job.JobSpec, success bool, lastError string) (Outcome, error) {
	anchor := j.PeriodStart
	if anchor.IsZero() {
		anchor = time.Now().UTC()
	} else {
		anchor = job.NextPeriodStart(anchor, j.Interval)
	}

	settled := false
	err := e.store.Atomically(ctx, func(tx job.Ops) error {
		current, err := tx.GetState(ctx, j.ID)
		if err != nil {
			return err
		}
		if current != job.StateRunning {
			return nil
		}
		j.State = job.StateEnqueued
		j.RunAttemptCount = 0
		j.PeriodStart = anchor
		j.LastError = lastError
		j.NotifiedAt = nil
		j.HeartbeatAt = nil
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !settled {
		return Outcome{}, nil
	}

	e.extensions.EmitJobRescheduled(ctx, j, anchor.Add(j.Interval))
	e.extensions.EmitJobExecuted(ctx, j, success, false)
	return Outcome{Ran: true, Success: success}, nil
}
