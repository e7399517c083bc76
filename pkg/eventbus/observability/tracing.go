package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes spans emitted by the dispatch pipeline.
const tracerName = "eventbus"

// StartDispatchSpan opens a span for one dispatch.
func StartDispatchSpan(ctx context.Context, eventID, eventType, mode string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "eventbus.dispatch",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.type", eventType),
			attribute.String("event.routing_mode", mode),
		),
	)
	return ctx, span
}

// EndDispatchSpan records the terminal status and closes the span.
func EndDispatchSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("dispatch.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
