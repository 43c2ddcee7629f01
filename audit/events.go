package audit

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued    = "job.enqueued"
	ActionJobStarted     = "job.started"
	ActionJobExecuted    = "job.executed"
	ActionJobUnblocked   = "job.unblocked"
	ActionJobRescheduled = "job.rescheduled"
	ActionJobRetrying    = "job.retrying"
	ActionJobFailed      = "job.failed"
	ActionJobCancelled   = "job.cancelled"
	ActionJobDLQ         = "job.dlq"
)

// CategoryJob groups all job lifecycle actions.
const CategoryJob = "latch.job"

// ResourceJob is the Resource field used for job events.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobExecuted,
		ActionJobUnblocked,
		ActionJobRescheduled,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobCancelled,
		ActionJobDLQ,
	}
}
