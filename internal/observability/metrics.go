// Package observability collects Prometheus metrics for the agent core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks agent run activity, model calls, and tool executions.
// Registered once at startup on the default registry and served at /metrics.
type Metrics struct {
	// RunCounter counts orchestrator runs by terminal status.
	// Labels: status (completed|error)
	RunCounter *prometheus.CounterVec

	// ActiveRuns is the number of runs currently in flight.
	ActiveRuns prometheus.Gauge

	// LLMRequestCounter counts model calls by provider and status.
	// Labels: provider, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider
	LLMRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// NotificationCounter counts outbound UI notifications by type.
	NotificationCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpilot_runs_total",
				Help: "Total number of agent runs by terminal status",
			},
			[]string{"status"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbpilot_active_runs",
				Help: "Current number of agent runs in flight",
			},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpilot_llm_requests_total",
				Help: "Total number of model calls by provider and status",
			},
			[]string{"provider", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbpilot_llm_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpilot_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		NotificationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpilot_notifications_total",
				Help: "Total number of outbound UI notifications by type",
			},
			[]string{"type"},
		),
	}
}

// RunStarted records a run entering flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a run leaving flight with its terminal status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunCounter.WithLabelValues(status).Inc()
}

// NotificationSent records one outbound notification.
func (m *Metrics) NotificationSent(notificationType string) {
	if m == nil {
		return
	}
	m.NotificationCounter.WithLabelValues(notificationType).Inc()
}

// LLMRequest records one model call.
func (m *Metrics) LLMRequest(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider).Observe(seconds)
}

// ToolExecution records one tool invocation.
func (m *Metrics) ToolExecution(toolName, status string) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
}
