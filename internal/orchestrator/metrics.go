package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/admesh/salesagent/internal/domain"
)

// Metrics counts lifecycle activity. A nil *Metrics disables collection, so
// the orchestrator never branches on whether metrics are enabled.
type Metrics struct {
	TransitionsTotal *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
}

// NewMetrics registers the orchestrator's counters on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "mediabuy",
			Name:      "transitions_total",
			Help:      "Total media buy state transitions.",
		}, []string{"from", "to"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "adapter",
			Name:      "retries_total",
			Help:      "Total retried adapter calls.",
		}, []string{"adapter"}),
	}
	reg.MustRegister(m.TransitionsTotal, m.RetriesTotal)
	return m
}

func (m *Metrics) transitioned(from, to domain.MediaBuyState) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) retried(adapter string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(adapter).Inc()
}
