package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/latchq/latch/job"
)

const meterName = "github.com/latchq/latch"

// Metrics records execution counts and latencies using the global
// meter provider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is like Metrics but lets callers supply the meter,
// which keeps tests hermetic.
func MetricsWithMeter(meter metric.Meter) Middleware {
	executions, _ := meter.Int64Counter("latch.job.executions",
		metric.WithDescription("Completed job execution attempts"))
	duration, _ := meter.Float64Histogram("latch.job.duration",
		metric.WithDescription("Job execution latency"),
		metric.WithUnit("s"))

	return func(ctx context.Context, j *job.JobSpec, next Handler) (job.Result, error) {
		start := time.Now()
		res, err := next(ctx)

		attrs := metric.WithAttributes(
			attribute.String("worker", j.Worker),
			attribute.String("queue", j.Queue),
			attribute.String("status", statusOf(res, err)),
		)
		executions.Add(ctx, 1, attrs)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		return res, err
	}
}
