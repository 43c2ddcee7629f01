package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latchq/latch/ext"
	"github.com/latchq/latch/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobEnqueued    = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobExecuted    = (*Extension)(nil)
	_ ext.JobUnblocked   = (*Extension)(nil)
	_ ext.JobRescheduled = (*Extension)(nil)
	_ ext.JobRetrying    = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobCancelled   = (*Extension)(nil)
	_ ext.JobDLQ         = (*Extension)(nil)
)

// Extension bridges latch lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// Option configures an Extension.
type Option func(*Extension)

// WithActions restricts the extension to emit only the listed actions.
// By default all actions are enabled. Unknown actions are silently ignored.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.JobSpec) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"worker", j.Worker,
		"queue", j.Queue,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.JobSpec) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"worker", j.Worker,
		"queue", j.Queue,
		"attempt", j.RunAttemptCount,
	)
}

// OnJobExecuted implements ext.JobExecuted.
func (e *Extension) OnJobExecuted(ctx context.Context, j *job.JobSpec, success, reschedule bool) error {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	return e.record(ctx, ActionJobExecuted, SeverityInfo, outcome, j.ID.String(), nil,
		"worker", j.Worker,
		"queue", j.Queue,
		"success", success,
		"reschedule", reschedule,
	)
}

// OnJobUnblocked implements ext.JobUnblocked.
func (e *Extension) OnJobUnblocked(ctx context.Context, j *job.JobSpec) error {
	return e.record(ctx, ActionJobUnblocked, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"worker", j.Worker,
		"queue", j.Queue,
	)
}

// OnJobRescheduled implements ext.JobRescheduled.
func (e *Extension) OnJobRescheduled(ctx context.Context, j *job.JobSpec, nextPeriodStart time.Time) error {
	return e.record(ctx, ActionJobRescheduled, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"worker", j.Worker,
		"queue", j.Queue,
		"next_period_start", nextPeriodStart.Format(time.RFC3339),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.JobSpec, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j.ID.String(), nil,
		"worker", j.Worker,
		"queue", j.Queue,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.JobSpec, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j.ID.String(), jobErr,
		"worker", j.Worker,
		"queue", j.Queue,
		"attempt", j.RunAttemptCount,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.JobSpec) error {
	return e.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeFailure, j.ID.String(), nil,
		"worker", j.Worker,
		"queue", j.Queue,
	)
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.JobSpec, jobErr error) error {
	return e.record(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure, j.ID.String(), jobErr,
		"worker", j.Worker,
		"queue", j.Queue,
		"attempt", j.RunAttemptCount,
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome, resourceID string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		At:         time.Now().UTC(),
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
