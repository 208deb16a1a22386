package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/admesh/salesagent/internal/adapters"
)

// InstrumentedAdapter wraps an adapters.Adapter with metrics and tracing.
// Every platform call gets a span and a counter/histogram sample.
type InstrumentedAdapter struct {
	inner   adapters.Adapter
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedAdapter wraps an ad server adapter with observability.
func NewInstrumentedAdapter(inner adapters.Adapter, metrics *MetricsCollector, tr *Tracing) *InstrumentedAdapter {
	var tracer trace.Tracer
	if tr != nil {
		tracer = tr.Tracer()
	}
	return &InstrumentedAdapter{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (a *InstrumentedAdapter) Name() string { return a.inner.Name() }

func (a *InstrumentedAdapter) GetAvails(ctx context.Context, req *adapters.AvailsRequest) (*adapters.Avails, error) {
	ctx, done := a.begin(ctx, "get_avails")
	avails, err := a.inner.GetAvails(ctx, req)
	done(ctx, err)
	return avails, err
}

func (a *InstrumentedAdapter) CreateMediaBuy(ctx context.Context, req *adapters.CreateRequest) (*adapters.CreateResult, error) {
	ctx, done := a.begin(ctx, "create_media_buy")
	result, err := a.inner.CreateMediaBuy(ctx, req)
	done(ctx, err)
	return result, err
}

func (a *InstrumentedAdapter) UpdateMediaBuy(ctx context.Context, req *adapters.UpdateRequest) error {
	ctx, done := a.begin(ctx, "update_media_buy")
	err := a.inner.UpdateMediaBuy(ctx, req)
	done(ctx, err)
	return err
}

func (a *InstrumentedAdapter) Activate(ctx context.Context, externalID string) error {
	ctx, done := a.begin(ctx, "activate")
	err := a.inner.Activate(ctx, externalID)
	done(ctx, err)
	return err
}

func (a *InstrumentedAdapter) Pause(ctx context.Context, externalID string) error {
	ctx, done := a.begin(ctx, "pause")
	err := a.inner.Pause(ctx, externalID)
	done(ctx, err)
	return err
}

func (a *InstrumentedAdapter) Resume(ctx context.Context, externalID string) error {
	ctx, done := a.begin(ctx, "resume")
	err := a.inner.Resume(ctx, externalID)
	done(ctx, err)
	return err
}

func (a *InstrumentedAdapter) GetStatus(ctx context.Context, externalID string) (*adapters.Status, error) {
	ctx, done := a.begin(ctx, "get_status")
	status, err := a.inner.GetStatus(ctx, externalID)
	done(ctx, err)
	return status, err
}

func (a *InstrumentedAdapter) GetPerformance(ctx context.Context, externalID string, start, end time.Time) (*adapters.Performance, error) {
	ctx, done := a.begin(ctx, "get_performance")
	perf, err := a.inner.GetPerformance(ctx, externalID, start, end)
	done(ctx, err)

	if err == nil && perf != nil && a.metrics != nil {
		a.metrics.BuySpendTotal.WithLabelValues(a.inner.Name()).Add(perf.Spend)
	}
	return perf, err
}

// begin opens a span and returns a completion func that records metrics and
// span status. The returned context carries the span.
func (a *InstrumentedAdapter) begin(ctx context.Context, method string) (context.Context, func(context.Context, error)) {
	adapterName := a.inner.Name()

	if a.tracer != nil {
		var span trace.Span
		ctx, span = a.tracer.Start(ctx, "adapter."+method,
			trace.WithAttributes(
				attribute.String("adapter.name", adapterName),
			))
		start := time.Now()
		return ctx, func(ctx context.Context, err error) {
			a.record(adapterName, method, start, err)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
	}

	start := time.Now()
	return ctx, func(_ context.Context, err error) {
		a.record(adapterName, method, start, err)
	}
}

func (a *InstrumentedAdapter) record(adapterName, method string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.AdapterCallsTotal.WithLabelValues(adapterName, method, status).Inc()
	a.metrics.AdapterCallDuration.WithLabelValues(adapterName, method).Observe(time.Since(start).Seconds())
}

// compile-time interface check
var _ adapters.Adapter = (*InstrumentedAdapter)(nil)
