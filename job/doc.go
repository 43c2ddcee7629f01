// Package job defines the job entity, its state machine, the worker and
// dependency contracts, and the store interface.
//
// # JobSpec
//
// A [JobSpec] is a persisted unit of work. It embeds [latch.Entity] for
// timestamps, carries opaque input/output payloads, and progresses through
// a state machine:
//
//	enqueued → running → succeeded
//	enqueued → running → failed
//	enqueued → running → enqueued        (retry, or periodic re-arm)
//	blocked  → enqueued → ...            (all prerequisites succeeded)
//	blocked  → failed                    (a prerequisite failed)
//	any non-terminal → cancelled
//
// Blocked is only entered at submission time, when unmet prerequisites
// exist. Succeeded, failed, and cancelled are terminal for one-shot jobs;
// a periodic job instead re-arms into enqueued with its period advanced by
// exactly one interval and its attempt count reset.
//
// # Workers
//
// Job logic implements [Worker]; concrete types are resolved by name from
// a [Registry] at execution time. A name stored on a JobSpec that resolves
// to nothing is a permanent error: the job fails and is never retried.
//
//	reg := job.NewRegistry()
//	reg.RegisterFunc("send-email", func(ctx context.Context, in payload.Payload) job.Result {
//	    to, _ := in.String("to")
//	    if err := mailer.Send(ctx, to); err != nil {
//	        return job.Retry()
//	    }
//	    return job.Success(nil)
//	})
//
// # Dependencies
//
// A [Dependency] edge gates a dependent on a prerequisite's success. Edge
// insertion order fixes the encounter order of prerequisite outputs for
// the input merger.
package job
