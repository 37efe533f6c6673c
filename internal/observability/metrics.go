package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the bridge's Prometheus metrics.
type Metrics struct {
	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, outcome (success or an error kind)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolResultBytes measures the JSON size of successful tool data.
	// Labels: tool_name
	ToolResultBytes *prometheus.HistogramVec

	// ActiveSessions tracks connected browser sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures browser session lifetime in seconds.
	SessionDuration prometheus.Histogram

	// FrameCounter counts frames by leg (reasoning|speech|browser), direction and type.
	FrameCounter *prometheus.CounterVec

	// ReconnectCounter counts reconnect attempts per leg.
	ReconnectCounter *prometheus.CounterVec

	// SlowResponseCounter counts chat sends that tripped the latency watchdog.
	SlowResponseCounter prometheus.Counter

	// UsageDropped counts usage records dropped because the sink was behind.
	UsageDropped prometheus.Counter

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pam_tool_executions_total",
				Help: "Total number of tool executions by tool and outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pam_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		ToolResultBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pam_tool_result_bytes",
				Help:    "Size of tool result data in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"tool_name"},
		),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pam_active_sessions",
			Help: "Number of connected browser sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pam_session_duration_seconds",
			Help:    "Browser session lifetime in seconds",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400},
		}),
		FrameCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pam_frames_total",
				Help: "Frames exchanged by leg, direction and type",
			},
			[]string{"leg", "direction", "type"},
		),
		ReconnectCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pam_reconnects_total",
				Help: "Reconnect attempts by leg",
			},
			[]string{"leg"},
		),
		SlowResponseCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "pam_slow_responses_total",
			Help: "Chat sends with no response within the latency threshold",
		}),
		UsageDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pam_usage_records_dropped_total",
			Help: "Usage records dropped because the sink could not keep up",
		}),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pam_http_request_duration_seconds",
				Help:    "HTTP API request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// ObserveToolExecution records one finished tool execution.
func (m *Metrics) ObserveToolExecution(toolName, outcome string, d time.Duration, dataBytes int) {
	m.ToolExecutionCounter.WithLabelValues(toolName, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(d.Seconds())
	if dataBytes > 0 {
		m.ToolResultBytes.WithLabelValues(toolName).Observe(float64(dataBytes))
	}
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records the lifetime.
func (m *Metrics) SessionEnded(lifetime time.Duration) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// Frame counts one frame on a leg.
func (m *Metrics) Frame(leg, direction, frameType string) {
	m.FrameCounter.WithLabelValues(leg, direction, frameType).Inc()
}

// Reconnect counts one reconnect attempt on a leg.
func (m *Metrics) Reconnect(leg string) {
	m.ReconnectCounter.WithLabelValues(leg).Inc()
}

// SlowResponse counts one latency watchdog expiry.
func (m *Metrics) SlowResponse() {
	m.SlowResponseCounter.Inc()
}

// UsageRecordDropped counts one dropped usage record.
func (m *Metrics) UsageRecordDropped() {
	m.UsageDropped.Inc()
}

// RecordHTTPRequest records one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, d time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(d.Seconds())
}
