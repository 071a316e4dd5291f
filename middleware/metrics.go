package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/queuesched/job"
)

const meterName = "github.com/xraph/queuesched"

// Run outcomes recorded in the status attribute.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Metrics records per-run metrics on the global MeterProvider.
//
// Instruments:
//   - queuesched.job.duration (Float64Histogram, seconds)
//   - queuesched.job.executions (Int64Counter)
//   - queuesched.job.active (Int64UpDownCounter): runs in progress
//
// duration and executions carry job_name and status (StatusOK,
// StatusError or StatusTimeout); active carries job_name.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics on a specific meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors still come with usable noop instruments.
	duration, _ := meter.Float64Histogram("queuesched.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("queuesched.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)
	active, _ := meter.Int64UpDownCounter("queuesched.job.active",
		metric.WithDescription("Job executions in progress"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j job.Job, next Handler) error {
		name := attribute.String("job_name", j.Name)
		active.Add(ctx, 1, metric.WithAttributes(name))
		defer active.Add(ctx, -1, metric.WithAttributes(name))

		start := time.Now()
		err := next(ctx)

		attrs := metric.WithAttributes(name, attribute.String("status", runStatus(err)))
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}
