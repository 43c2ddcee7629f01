package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/latchq/latch/job"
)

// Logging emits a structured line for every execution attempt.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *job.JobSpec, next Handler) (job.Result, error) {
		start := time.Now()
		logger.DebugContext(ctx, "job starting",
			"job_id", j.ID.String(),
			"worker", j.Worker,
			"queue", j.Queue,
			"attempt", j.RunAttemptCount,
		)

		res, err := next(ctx)

		attrs := []any{
			"job_id", j.ID.String(),
			"worker", j.Worker,
			"queue", j.Queue,
			"attempt", j.RunAttemptCount,
			"duration", time.Since(start),
			"status", statusOf(res, err),
		}
		if err != nil {
			logger.ErrorContext(ctx, "job errored", append(attrs, "error", err)...)
		} else {
			logger.InfoContext(ctx, "job finished", attrs...)
		}
		return res, err
	}
}

func statusOf(res job.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.IsRetry():
		return "retry"
	case res.IsFailure():
		return "failed"
	default:
		return "ok"
	}
}
