package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bprzybys-nc/manager-sub001/job"
)

// instrumentationName is the OpenTelemetry scope of this module.
const instrumentationName = "github.com/bprzybys-nc/manager-sub001"

// Tracing returns middleware that wraps job execution in a span from the
// global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: incident.id, incident.job.id, incident.job.name,
// incident.queue, incident.attempt. On error the span status is
// codes.Error.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "incident.job.execute",
			trace.WithAttributes(
				attribute.String("incident.id", j.IncidentID),
				attribute.String("incident.job.id", j.ID.String()),
				attribute.String("incident.job.name", j.Name),
				attribute.String("incident.queue", j.Queue),
				attribute.Int("incident.attempt", j.RetryCount+1),
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
