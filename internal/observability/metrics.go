package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for kalimcp.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge

	// Validation metrics.
	ValidationFailuresTotal *prometheus.CounterVec
	OutputTruncationsTotal  prometheus.Counter

	// Catalog metrics.
	ToolsAvailable prometheus.Gauge

	// Audit sink metrics.
	AuditEventsDropped prometheus.Gauge

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalimcp",
			Subsystem: "exec",
			Name:      "executions_total",
			Help:      "Total tool executions by terminal outcome.",
		}, []string{"tool", "outcome"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kalimcp",
			Subsystem: "exec",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution wall-clock duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"tool"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalimcp",
			Subsystem: "exec",
			Name:      "active",
			Help:      "Number of currently running tool processes.",
		}),

		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalimcp",
			Subsystem: "validate",
			Name:      "failures_total",
			Help:      "Total rejected requests by validation failure kind.",
		}, []string{"kind"}),

		OutputTruncationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kalimcp",
			Subsystem: "exec",
			Name:      "output_truncations_total",
			Help:      "Executions whose captured output hit the byte ceiling.",
		}),

		ToolsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalimcp",
			Subsystem: "registry",
			Name:      "tools_available",
			Help:      "Allow-listed tools whose binary resolved at the last probe.",
		}),

		AuditEventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kalimcp",
			Subsystem: "audit",
			Name:      "events_dropped",
			Help:      "Audit events discarded because the sink queue was full.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kalimcp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kalimcp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.ValidationFailuresTotal,
		m.OutputTruncationsTotal,
		m.ToolsAvailable,
		m.AuditEventsDropped,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}
