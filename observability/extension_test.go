package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/queuesched/ext"
	"github.com/xraph/queuesched/job"
	"github.com/xraph/queuesched/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

// counterValue sums every data point of the named counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	ctx := context.Background()
	j := job.New("send-email", nil)

	tests := []struct {
		name   string
		metric string
		fire   func(e *observability.MetricsExtension) error
	}{
		{"scheduled", "queuesched.job.scheduled", func(e *observability.MetricsExtension) error {
			return e.OnJobScheduled(ctx, j, "general", "local")
		}},
		{"started", "queuesched.job.started", func(e *observability.MetricsExtension) error {
			return e.OnJobStarted(ctx, j)
		}},
		{"completed", "queuesched.job.completed", func(e *observability.MetricsExtension) error {
			return e.OnJobCompleted(ctx, j, 100*time.Millisecond)
		}},
		{"failed", "queuesched.job.failed", func(e *observability.MetricsExtension) error {
			return e.OnJobFailed(ctx, j, errors.New("boom"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, reader := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := counterValue(t, reader, tt.metric); got != 1 {
				t.Errorf("%s = %d, want 1", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_ThroughRegistry(t *testing.T) {
	e, reader := newTestExtension()
	r := ext.NewRegistry(slog.Default())
	r.Register(e)

	ctx := context.Background()
	j := job.New("send-email", nil)
	for i := 0; i < 3; i++ {
		r.EmitJobScheduled(ctx, j, "general", "local")
	}
	r.EmitJobFailed(ctx, j, errors.New("boom"))

	if got := counterValue(t, reader, "queuesched.job.scheduled"); got != 3 {
		t.Errorf("scheduled = %d, want 3", got)
	}
	if got := counterValue(t, reader, "queuesched.job.failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := counterValue(t, reader, "queuesched.job.completed"); got != 0 {
		t.Errorf("completed = %d, want 0", got)
	}
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnJobCompleted(context.Background(), job.New("x", nil), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
