package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDeliveryTracer_DispatchAndDeliverySpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	dt := NewDeliveryTracer(tp.Tracer("test"))

	ctx, dispatchSpan := dt.StartDispatch(context.Background(), "broadcast", 2)
	_, deliverySpan := dt.StartDelivery(ctx, "target_1", "alerts")
	dt.SetSuccess(deliverySpan)
	deliverySpan.End()
	dispatchSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	// Spans export innermost first.
	deliver, dispatch := spans[0], spans[1]
	if deliver.Name != "deliver" {
		t.Errorf("expected deliver span, got %q", deliver.Name)
	}
	if dispatch.Name != "dispatch" {
		t.Errorf("expected dispatch span, got %q", dispatch.Name)
	}
	if deliver.Parent.SpanID() != dispatch.SpanContext.SpanID() {
		t.Error("expected delivery span to be a child of the dispatch span")
	}
	if deliver.Status.Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", deliver.Status.Code)
	}
}

func TestDeliveryTracer_RecordError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	dt := NewDeliveryTracer(tp.Tracer("test"))

	_, span := dt.StartDelivery(context.Background(), "target_1", "alerts")
	dt.RecordError(span, errors.New("connection refused"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected Error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected a recorded error event on the span")
	}
}

func TestDeliveryTracer_NilTracerUsesGlobal(t *testing.T) {
	dt := NewDeliveryTracer(nil)
	if dt.tracer == nil {
		t.Fatal("expected a tracer from the global provider")
	}
}
