package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewTracerFromProvider(provider, "pam-test"), recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewTracer_NoEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	if tracer.config.ServiceName != "pam" {
		t.Errorf("ServiceName = %q, want default pam", tracer.config.ServiceName)
	}
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestTracer_TraceToolExecution(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, span := tracer.TraceToolExecution(context.Background(), "getFuelData", "user-1", "req-1")
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("context should carry the span")
	}
	tracer.SetAttributes(span, "tool.success", true, 42, "ignored", "tool.bytes", 128)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name() != "tool.getFuelData" {
		t.Errorf("span name = %q", got.Name())
	}
	if got.SpanKind() != trace.SpanKindInternal {
		t.Errorf("span kind = %v", got.SpanKind())
	}
	if v, ok := attrValue(got.Attributes(), "request_id"); !ok || v.AsString() != "req-1" {
		t.Errorf("request_id attribute = %v", v)
	}
	if v, ok := attrValue(got.Attributes(), "tool.success"); !ok || !v.AsBool() {
		t.Errorf("tool.success attribute = %v", v)
	}
	if v, ok := attrValue(got.Attributes(), "tool.bytes"); !ok || v.AsInt64() != 128 {
		t.Errorf("tool.bytes attribute = %v", v)
	}
}

func TestTracer_RecordError(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.TraceDial(context.Background(), "reasoning", "ws://engine", 2)
	tracer.RecordError(span, nil)
	tracer.RecordError(span, errors.New("connection refused"))
	span.End()

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", got.Status().Code)
	}
	if len(got.Events()) != 1 {
		t.Errorf("events = %d, want 1 (nil error ignored)", len(got.Events()))
	}
	if got.SpanKind() != trace.SpanKindClient {
		t.Errorf("dial span kind = %v", got.SpanKind())
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{1, attribute.INT64},
		{int64(2), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{[]string{"a"}, attribute.STRINGSLICE},
		{struct{}{}, attribute.STRING},
	}
	for _, tt := range tests {
		if got := attributeFromValue("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("attributeFromValue(%T) type = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}
