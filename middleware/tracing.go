package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald/job"
)

// tracerName is the instrumentation scope name for herald tracing.
const tracerName = "github.com/xraph/herald"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span. Without a configured TracerProvider the noop tracer is used.
//
// Span attributes: herald.job.id, herald.job.type, herald.job.priority,
// herald.job.attempt.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "herald.job.execute",
			trace.WithAttributes(
				attribute.String("herald.job.id", j.ID.String()),
				attribute.String("herald.job.type", string(j.Type)),
				attribute.String("herald.job.priority", j.Priority.String()),
				attribute.Int("herald.job.attempt", j.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
