package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "pam"

// TraceConfig selects where spans go. An empty Endpoint disables export.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is an OTLP/gRPC collector address such as "localhost:4317".
	Endpoint string
	// SamplingRate is the recorded fraction of root spans. Zero means all.
	SamplingRate   float64
	EnableInsecure bool
}

// SpanOptions sets the kind and initial attributes of a span.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// Tracer starts the spans the bridge emits: one per tool execution, one per
// reasoning dial attempt and one per HTTP request.
type Tracer struct {
	tracer trace.Tracer
	config TraceConfig
}

// NewTracer builds a tracer and the function that flushes it on shutdown.
// Without an endpoint, or when the exporter cannot be created, spans are
// started on the global provider and never exported.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	fallback := &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return fallback, noop
	}

	provider, err := newExportingProvider(config)
	if err != nil {
		otel.Handle(fmt.Errorf("tracing disabled: %w", err))
		return fallback, noop
	}
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Tracer{tracer: provider.Tracer(config.ServiceName), config: config}, provider.Shutdown
}

// NewTracerFromProvider wraps an existing provider, typically one backed by
// an in-memory recorder.
func NewTracerFromProvider(provider trace.TracerProvider, serviceName string) *Tracer {
	return &Tracer{
		tracer: provider.Tracer(serviceName),
		config: TraceConfig{ServiceName: serviceName},
	}
}

func newExportingProvider(config TraceConfig) (*sdktrace.TracerProvider, error) {
	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(serviceResource(config)),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(config.SamplingRate))),
	), nil
}

func serviceResource(config TraceConfig) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(config.ServiceName)}
	if config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return resource.Default()
	}
	return res
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Start opens a span named name. Only the first SpanOptions is used.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	if len(opts) == 0 {
		return t.tracer.Start(ctx, name)
	}
	startOpts := []trace.SpanStartOption{trace.WithAttributes(opts[0].Attributes...)}
	if opts[0].Kind != trace.SpanKindUnspecified {
		startOpts = append(startOpts, trace.WithSpanKind(opts[0].Kind))
	}
	return t.tracer.Start(ctx, name, startOpts...)
}

// RecordError marks span failed with err. A nil err is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes adds alternating key/value pairs to span. Pairs whose key is
// not a string are dropped.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	var attrs []attribute.KeyValue
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
		}
	}
	span.SetAttributes(attrs...)
}

// TraceToolExecution opens the span covering one tool call.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName, userID, requestID string) (context.Context, trace.Span) {
	return t.Start(ctx, "tool."+toolName, SpanOptions{
		Kind: trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{
			attribute.String("tool.name", toolName),
			attribute.String("user_id", userID),
			attribute.String("request_id", requestID),
		},
	})
}

// TraceDial opens a client span for one connection attempt on leg.
func (t *Tracer) TraceDial(ctx context.Context, leg, endpoint string, attempt int) (context.Context, trace.Span) {
	return t.Start(ctx, "dial."+leg, SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("leg", leg),
			attribute.String("endpoint", endpoint),
			attribute.Int("attempt", attempt),
		},
	})
}

// TraceHTTPRequest opens a server span for an HTTP request.
func (t *Tracer) TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return t.Start(ctx, method+" "+path, SpanOptions{
		Kind: trace.SpanKindServer,
		Attributes: []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		},
	})
}

func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
