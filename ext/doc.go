// Package ext defines the extension system for Latch.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, streaming events, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobExecuted(ctx context.Context, j *job.JobSpec, success, reschedule bool) error {
//	    log.Printf("job %s executed: success=%v reschedule=%v", j.ID, success, reschedule)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued] — job was accepted for execution
//   - [JobStarted] — an executor claimed the job and began running it
//   - [JobExecuted] — an execution attempt settled (success or not, rescheduled or not)
//   - [JobUnblocked] — the job's last prerequisite succeeded
//   - [JobRescheduled] — a periodic job was re-armed for its next period
//   - [JobRetrying] — job asked to be retried with backoff
//   - [JobFailed] — job failed terminally, including cascaded failures
//   - [JobCancelled] — job was cancelled
//   - [JobDLQ] — job was moved to the dead letter queue
//
// # Other Hooks
//
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
