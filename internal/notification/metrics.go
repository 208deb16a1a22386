package notification

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts delivery attempts per endpoint kind. A nil *Metrics
// disables collection.
type Metrics struct {
	DeliveriesTotal *prometheus.CounterVec
}

// NewMetrics registers the dispatcher's counters on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Total notification delivery attempts.",
		}, []string{"kind", "status"}),
	}
	reg.MustRegister(m.DeliveriesTotal)
	return m
}

func (m *Metrics) delivered(kind, status string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(kind, status).Inc()
}
