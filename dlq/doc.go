// Package dlq provides the dead letter queue for jobs that have failed
// terminally. It supports inspection, replay, and purging.
//
// When a run reports terminal failure, the executor calls [Service.Push]
// to copy the job into the DLQ. The original input, error message, and
// attempt count are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / Worker / Queue: original job identity
//   - Input: the job's input data at time of failure
//   - Error: the final error message
//   - RunAttemptCount: attempts consumed before the terminal failure
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, jobStore)
//
//	// Push is called automatically by the executor on terminal failure.
//	svc.Push(ctx, failedJob, err)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
//
// # Replay
//
// Replaying an entry submits a fresh copy of the original job with the
// same input and a zeroed attempt count, and sets ReplayedAt on the
// entry.
package dlq
