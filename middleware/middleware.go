// Package middleware provides composable interceptors that wrap job
// execution. A Middleware receives the job being executed and a next
// handler; it may short-circuit, decorate the context, or inspect the
// result on the way back out.
package middleware

import (
	"context"

	"github.com/latchq/latch/job"
)

// Handler runs the job body and reports its outcome.
type Handler func(ctx context.Context) (job.Result, error)

// Middleware wraps a Handler. Implementations must call next unless
// they intend to abort the execution.
type Middleware func(ctx context.Context, j *job.JobSpec, next Handler) (job.Result, error)

// Chain composes middlewares so the first in the slice is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.JobSpec, next Handler) (job.Result, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) (job.Result, error) {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}
