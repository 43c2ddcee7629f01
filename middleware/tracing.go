package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/latchq/latch/job"
)

const tracerName = "github.com/latchq/latch"

// Tracing opens a span per execution attempt using the global tracer
// provider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is like Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.JobSpec, next Handler) (job.Result, error) {
		ctx, span := tracer.Start(ctx, "latch.job.execute",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("latch.job.id", j.ID.String()),
				attribute.String("latch.job.worker", j.Worker),
				attribute.String("latch.job.queue", j.Queue),
				attribute.Int("latch.job.attempt", j.RunAttemptCount),
			),
		)
		defer span.End()

		res, err := next(ctx)
		span.SetAttributes(attribute.String("latch.job.status", statusOf(res, err)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res, err
	}
}
