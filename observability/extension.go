package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/queuesched/ext"
	"github.com/xraph/queuesched/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/queuesched/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobScheduled = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it as
// a scheduler extension to track schedule rates, completion counts and
// failure rates per job name.
type MetricsExtension struct {
	JobScheduled metric.Int64Counter
	JobStarted   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// The OTel API returns usable noop instruments alongside any error.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit("{job}"),
		)
		return c
	}
	return &MetricsExtension{
		JobScheduled: counter("queuesched.job.scheduled", "Jobs accepted by a backend"),
		JobStarted:   counter("queuesched.job.started", "Job executions started"),
		JobCompleted: counter("queuesched.job.completed", "Job executions that succeeded"),
		JobFailed:    counter("queuesched.job.failed", "Job executions that failed"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobScheduled implements ext.JobScheduled.
func (m *MetricsExtension) OnJobScheduled(ctx context.Context, j job.Job, queue, backend string) error {
	m.JobScheduled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", queue),
		attribute.String("backend", backend),
	))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j job.Job) error {
	m.JobStarted.Add(ctx, 1, nameAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, nameAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, nameAttr(j))
	return nil
}

func nameAttr(j job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_name", j.Name))
}
