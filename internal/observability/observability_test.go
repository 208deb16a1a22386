package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"

	"github.com/admesh/salesagent/internal/adapters"
	"github.com/admesh/salesagent/internal/config"
	"github.com/admesh/salesagent/internal/domain"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Vec metrics only appear in Gather after first use.
	m.ToolCallsTotal.WithLabelValues("get_products", "success").Inc()
	m.AdapterCallsTotal.WithLabelValues("mock", "create_media_buy", "success").Inc()
	m.BuySpendTotal.WithLabelValues("mock").Add(120.5)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"salesagent_tool_calls_total",
		"salesagent_adapter_calls_total",
		"salesagent_mediabuy_spend_usd_total",
	} {
		if !names[expected] {
			t.Errorf("metric %s not registered", expected)
		}
	}
}

// --- HealthChecker ---

func TestHealthChecker_Ready(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckReady(context.Background()); !got.Ready {
		t.Fatalf("no probes should be ready, got %+v", got)
	}

	h.AddCheck("database", func(context.Context) error { return nil })
	h.AddCheck("reconciler", func(context.Context) error { return errors.New("reconcile loop stalled") })

	got := h.CheckReady(context.Background())
	if got.Ready {
		t.Fatalf("expected not ready with a failing probe, got %+v", got)
	}
	if !got.Probes["database"].Healthy {
		t.Errorf("database probe should pass: %+v", got.Probes["database"])
	}
	if p := got.Probes["reconciler"]; p.Healthy || p.Error == "" {
		t.Errorf("reconciler probe should fail with an error: %+v", p)
	}
}

func TestHealthChecker_ProbeTimeout(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	got := h.CheckReady(context.Background())
	if got.Ready {
		t.Fatalf("expected hung probe to fail readiness, got %+v", got)
	}
}

// --- InstrumentedAdapter ---

func TestInstrumentedAdapter_RecordsCalls(t *testing.T) {
	m := NewMetricsCollector()
	reg := adapters.NewRegistry()
	now := time.Now().UTC()

	tenant := &domain.Tenant{ID: uuid.New(), Name: "Acme", Subdomain: "acme", AdapterName: "mock", Enabled: true}
	inner, err := reg.ForTenant(tenant, adapters.Options{})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}
	wrapped := NewInstrumentedAdapter(inner, m, nil)
	if wrapped.Name() != "mock" {
		t.Fatalf("unexpected name %q", wrapped.Name())
	}

	_, err = wrapped.CreateMediaBuy(context.Background(), &adapters.CreateRequest{
		MediaBuyID:  "buy_obs1",
		OrderName:   "Observed",
		TotalBudget: 1000,
		FlightStart: now,
		FlightEnd:   now.AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}

	if got := counterValue(t, m, "salesagent_adapter_calls_total", map[string]string{
		"adapter": "mock", "method": "create_media_buy", "status": "success",
	}); got != 1 {
		t.Fatalf("expected 1 recorded call, got %v", got)
	}
}

func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if matchesLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchesLabels(metric *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, l := range metric.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}
