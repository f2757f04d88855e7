package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DeliveryTracer provides convenience methods for creating spans around
// message dispatch and per-target delivery.
type DeliveryTracer struct {
	tracer trace.Tracer
}

// NewDeliveryTracer creates a DeliveryTracer. If tracer is nil, the global
// tracer provider is used.
func NewDeliveryTracer(tracer trace.Tracer) *DeliveryTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("hookrelay.dispatch")
	}
	return &DeliveryTracer{tracer: tracer}
}

// StartDispatch begins a span covering the fan-out of one message.
func (d *DeliveryTracer) StartDispatch(ctx context.Context, mode string, targetCount int) (context.Context, trace.Span) {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("dispatch.mode", mode),
			attribute.Int("dispatch.target_count", targetCount),
		),
	)
	return ctx, span
}

// StartDelivery begins a child span for the delivery to a single target.
func (d *DeliveryTracer) StartDelivery(ctx context.Context, targetID, targetName string) (context.Context, trace.Span) {
	ctx, span := d.tracer.Start(ctx, "deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("target.id", targetID),
			attribute.String("target.name", targetName),
		),
	)
	return ctx, span
}

// RecordError records an error on the given span and sets the span status.
func (d *DeliveryTracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks a span as successful.
func (d *DeliveryTracer) SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
