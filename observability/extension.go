// Package observability provides a metrics extension that records
// lifecycle counters for every job event the engine emits.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/latchq/latch/ext"
	"github.com/latchq/latch/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobExecuted    = (*MetricsExtension)(nil)
	_ ext.JobUnblocked   = (*MetricsExtension)(nil)
	_ ext.JobRescheduled = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.JobDLQ         = (*MetricsExtension)(nil)
)

const meterName = "github.com/latchq/latch/observability"

// MetricsExtension records system-wide lifecycle metrics. Register it
// as an extension to track submission rates, settled outcomes, unblock
// and re-arm counts, retries, failures, cancellations, and DLQ entries.
type MetricsExtension struct {
	enqueued    metric.Int64Counter
	executed    metric.Int64Counter
	unblocked   metric.Int64Counter
	rescheduled metric.Int64Counter
	retried     metric.Int64Counter
	failed      metric.Int64Counter
	cancelled   metric.Int64Counter
	dlq         metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use a manual-reader meter in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.enqueued, _ = meter.Int64Counter("latch.job.enqueued")
	m.executed, _ = meter.Int64Counter("latch.job.executed")
	m.unblocked, _ = meter.Int64Counter("latch.job.unblocked")
	m.rescheduled, _ = meter.Int64Counter("latch.job.rescheduled")
	m.retried, _ = meter.Int64Counter("latch.job.retried")
	m.failed, _ = meter.Int64Counter("latch.job.failed")
	m.cancelled, _ = meter.Int64Counter("latch.job.cancelled")
	m.dlq, _ = meter.Int64Counter("latch.job.dlq")
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, _ *job.JobSpec) error {
	m.enqueued.Add(ctx, 1)
	return nil
}

// OnJobExecuted implements ext.JobExecuted.
func (m *MetricsExtension) OnJobExecuted(ctx context.Context, _ *job.JobSpec, _, _ bool) error {
	m.executed.Add(ctx, 1)
	return nil
}

// OnJobUnblocked implements ext.JobUnblocked.
func (m *MetricsExtension) OnJobUnblocked(ctx context.Context, _ *job.JobSpec) error {
	m.unblocked.Add(ctx, 1)
	return nil
}

// OnJobRescheduled implements ext.JobRescheduled.
func (m *MetricsExtension) OnJobRescheduled(ctx context.Context, _ *job.JobSpec, _ time.Time) error {
	m.rescheduled.Add(ctx, 1)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, _ *job.JobSpec, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.JobSpec, _ error) error {
	m.failed.Add(ctx, 1)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ *job.JobSpec) error {
	m.cancelled.Add(ctx, 1)
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, _ *job.JobSpec, _ error) error {
	m.dlq.Add(ctx, 1)
	return nil
}
