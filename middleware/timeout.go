package middleware

import (
	"context"

	"github.com/latchq/latch/job"
)

// Timeout bounds each attempt by the job's configured timeout. Jobs
// without a timeout run unbounded.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.JobSpec, next Handler) (job.Result, error) {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
