// Package observability wires logging, metrics and tracing for the bridge.
//
// Logging is log/slog behind a handler that redacts secrets and lifts the
// request, user and session IDs carried on the context into every record:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddRequestID(ctx, req.RequestID)
//	logger.InfoContext(ctx, "tool executed", "tool", req.ToolName)
//
// Metrics are Prometheus collectors registered on a caller-supplied
// registerer so tests can use a private registry:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.ObserveToolExecution("getUserExpenses", "success", 40*time.Millisecond, 512)
//
// Tracing is OpenTelemetry exported over OTLP/gRPC when an endpoint is
// configured and a no-op tracer otherwise:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "pam"})
//	defer shutdown(context.Background())
//	ctx, span := tracer.TraceToolExecution(ctx, "getUserExpenses", userID, requestID)
//	defer span.End()
package observability
