package workflow

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/admesh/salesagent/internal/domain"
)

// Metrics counts task throughput. A nil *Metrics disables collection.
type Metrics struct {
	TasksCreatedTotal   *prometheus.CounterVec
	TasksCompletedTotal *prometheus.CounterVec
}

// NewMetrics registers the workflow's counters on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		TasksCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "workflow",
			Name:      "tasks_created_total",
			Help:      "Total human tasks created.",
		}, []string{"type"}),
		TasksCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salesagent",
			Subsystem: "workflow",
			Name:      "tasks_completed_total",
			Help:      "Total human tasks completed.",
		}, []string{"type", "resolution"}),
	}
	reg.MustRegister(m.TasksCreatedTotal, m.TasksCompletedTotal)
	return m
}

func (m *Metrics) taskCreated(typ domain.TaskType) {
	if m == nil {
		return
	}
	m.TasksCreatedTotal.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) taskCompleted(typ domain.TaskType, resolution string) {
	if m == nil {
		return
	}
	m.TasksCompletedTotal.WithLabelValues(string(typ), resolution).Inc()
}
