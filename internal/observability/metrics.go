package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds the cross-cutting Prometheus metrics recorded by the
// dispatcher and adapter wrappers, plus the registry that domain packages
// (orchestrator, workflow, notification) register their own counters on.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// MCP tool metrics.
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Ad server adapter metrics.
	AdapterCallsTotal   *prometheus.CounterVec
	AdapterCallDuration *prometheus.HistogramVec

	// BuySpendTotal accumulates reported spend per adapter.
	BuySpendTotal *prometheus.CounterVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total MCP tool calls.",
		}, []string{"tool", "status"}),

		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salesagent",
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "MCP tool call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		AdapterCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "adapter",
			Name:      "calls_total",
			Help:      "Total ad server adapter calls.",
		}, []string{"adapter", "method", "status"}),

		AdapterCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salesagent",
			Subsystem: "adapter",
			Name:      "call_duration_seconds",
			Help:      "Ad server adapter call duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"adapter", "method"}),

		BuySpendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "mediabuy",
			Name:      "spend_usd_total",
			Help:      "Total reported media buy spend in USD.",
		}, []string{"adapter"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "salesagent",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.AdapterCallsTotal,
		m.AdapterCallDuration,
		m.BuySpendTotal,
		m.ActiveRequests,
	)

	return m
}
