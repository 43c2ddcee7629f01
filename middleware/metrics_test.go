package middleware

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/latchq/latch/job"
)

func TestMetricsRecordsExecution(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mw := MetricsWithMeter(provider.Meter(meterName))

	_, err := mw(context.Background(), testJob(t), func(ctx context.Context) (job.Result, error) {
		return job.Success(nil), nil
	})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rm.ScopeMetrics) != 1 {
		t.Fatalf("scope metrics = %d, want 1", len(rm.ScopeMetrics))
	}

	names := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
	}
	for _, want := range []string{"latch.job.executions", "latch.job.duration"} {
		if !names[want] {
			t.Errorf("missing metric %q, got %v", want, names)
		}
	}
}
