package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/queuesched/job"
)

const tracerName = "github.com/xraph/queuesched"

// Tracing wraps each run in a queuesched.job.execute span on the global
// TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing on a specific tracer.
//
// Span attributes: queuesched.job.id, queuesched.job.name,
// queuesched.job.context_bytes and, when ctx carries a deadline,
// queuesched.job.timeout_ms. A run that ends in
// context.DeadlineExceeded also gets queuesched.job.timed_out=true.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("queuesched.job.id", j.ID),
			attribute.String("queuesched.job.name", j.Name),
			attribute.Int("queuesched.job.context_bytes", len(j.Context)),
		}
		if deadline, ok := ctx.Deadline(); ok {
			attrs = append(attrs, attribute.Int64("queuesched.job.timeout_ms", time.Until(deadline).Milliseconds()))
		}

		ctx, span := tracer.Start(ctx, "queuesched.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			span.SetAttributes(attribute.Bool("queuesched.job.timed_out", true))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
