package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/latchq/latch/job"
)

// Recover converts a panic inside a worker into an execution error so a
// single misbehaving job cannot take down the pool.
func Recover() Middleware {
	return func(ctx context.Context, j *job.JobSpec, next Handler) (res job.Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				res = job.Failure()
				err = fmt.Errorf("job %s panicked: %v\n%s", j.ID, r, debug.Stack())
			}
		}()
		return next(ctx)
	}
}
