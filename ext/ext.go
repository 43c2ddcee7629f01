package ext

import (
	"context"
	"time"

	"github.com/latchq/latch/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is successfully submitted.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.JobSpec) error
}

// JobStarted is called when an executor claims a job and begins running it.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.JobSpec) error
}

// JobExecuted is called after every execution attempt settles, mirroring
// the listener callback: success reports terminal success, reschedule
// reports that the job was returned to the queue for another attempt.
type JobExecuted interface {
	OnJobExecuted(ctx context.Context, j *job.JobSpec, success, reschedule bool) error
}

// JobUnblocked is called when a blocked job's last prerequisite succeeds
// and the job becomes eligible to run.
type JobUnblocked interface {
	OnJobUnblocked(ctx context.Context, j *job.JobSpec) error
}

// JobRescheduled is called when a periodic job is re-armed for its next
// period, after either a successful or failed run.
type JobRescheduled interface {
	OnJobRescheduled(ctx context.Context, j *job.JobSpec, nextPeriodStart time.Time) error
}

// JobRetrying is called when a run asks to be retried with backoff.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.JobSpec, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally, including jobs failed
// by a prerequisite's failure cascading onto them.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.JobSpec, err error) error
}

// JobCancelled is called when a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.JobSpec) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.JobSpec, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
