package queuesched

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/queuesched/ext"
	mw "github.com/xraph/queuesched/middleware"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithConfig replaces the scheduler configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) error {
		s.config = cfg
		return nil
	}
}

// WithDefaultQueue sets the name of the queue registered by New.
func WithDefaultQueue(name string) Option {
	return func(s *Scheduler) error {
		s.config.DefaultQueue = name
		return nil
	}
}

// WithLogger sets the structured logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// WithMiddleware appends middleware to the execution chain. They run
// inside the default middleware.
func WithMiddleware(m ...mw.Middleware) Option {
	return func(s *Scheduler) error {
		s.mws = append(s.mws, m...)
		return nil
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(s *Scheduler) error {
		s.pendingExts = append(s.pendingExts, e)
		return nil
	}
}

// WithTracerProvider sets the TracerProvider used by the tracing
// middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) error {
		s.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets the MeterProvider used by the metrics middleware
// and the observability extension. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Scheduler) error {
		s.meterProvider = mp
		return nil
	}
}
