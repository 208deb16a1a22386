package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// probeTimeout bounds each individual probe so one hung dependency cannot
// consume the whole readiness budget.
const probeTimeout = 2 * time.Second

// Probe answers whether one dependency can serve traffic right now.
type Probe func(ctx context.Context) error

// HealthChecker runs registered readiness probes for the admin /readyz
// endpoint. Liveness needs no probes: a process answering HTTP is alive.
type HealthChecker struct {
	mu     sync.RWMutex
	names  []string
	probes map[string]Probe
	logger *slog.Logger
}

// ProbeResult is one dependency's verdict.
type ProbeResult struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Report aggregates probe results. Ready is true only when every probe
// passed; with no probes registered the process is trivially ready.
type Report struct {
	Ready  bool                   `json:"ready"`
	Probes map[string]ProbeResult `json:"probes,omitempty"`
}

// NewHealthChecker creates a HealthChecker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{probes: map[string]Probe{}, logger: logger}
}

// AddCheck registers a named readiness probe. Re-registering a name replaces
// the previous probe.
func (h *HealthChecker) AddCheck(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.probes[name]; !exists {
		h.names = append(h.names, name)
	}
	h.probes[name] = probe
}

// CheckReady runs every probe, each under its own deadline, and reports
// per-probe results.
func (h *HealthChecker) CheckReady(ctx context.Context) Report {
	h.mu.RLock()
	names := append([]string(nil), h.names...)
	probes := make(map[string]Probe, len(h.probes))
	for n, p := range h.probes {
		probes[n] = p
	}
	h.mu.RUnlock()

	report := Report{Ready: true}
	if len(names) == 0 {
		return report
	}
	report.Probes = make(map[string]ProbeResult, len(names))
	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probes[name](probeCtx)
		cancel()
		if err != nil {
			report.Ready = false
			report.Probes[name] = ProbeResult{Error: err.Error()}
			if h.logger != nil {
				h.logger.Warn("readiness probe failed",
					slog.String("probe", name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		report.Probes[name] = ProbeResult{Healthy: true}
	}
	return report
}
