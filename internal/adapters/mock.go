package adapters

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/targeting"
)

// mockAdapter simulates an ad server in memory. Delivery is a pure function
// of the campaign's flight window, budget, and the configured fill rate, so
// repeated report calls over the same window return identical numbers.
type mockAdapter struct {
	cfg  domain.MockAdapterConfig
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	campaigns map[string]*mockCampaign
}

type mockCampaign struct {
	req    CreateRequest
	paused bool
	// pausedFor accumulates time spent paused so delivery pacing skips it.
	pausedFor time.Duration
	pausedAt  time.Time
}

func newMockAdapter(tenant *domain.Tenant, opts Options) (Adapter, error) {
	cfg := domain.MockAdapterConfig{FillRate: 1.0}
	if tenant.AdapterConfig.Mock != nil {
		cfg = *tenant.AdapterConfig.Mock
		if cfg.FillRate <= 0 || cfg.FillRate > 1 {
			cfg.FillRate = 1.0
		}
	}
	return &mockAdapter{
		cfg:       cfg,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		campaigns: map[string]*mockCampaign{},
	}, nil
}

func (a *mockAdapter) Name() string { return "mock" }

func (a *mockAdapter) GetAvails(_ context.Context, req *AvailsRequest) (*Avails, error) {
	_, warnings, err := targeting.Translate("mock", nonNil(req.Targeting))
	if err != nil {
		return nil, err
	}
	days := flightDays(req.FlightStart, req.FlightEnd)
	cap := a.cfg.DailyImpressionCap
	if cap <= 0 {
		cap = 1_000_000
	}
	return &Avails{
		ProductID:        req.Product.ProductID,
		AvailImpressions: int64(float64(cap*int64(days)) * a.cfg.FillRate),
		Warnings:         warnings,
	}, nil
}

func (a *mockAdapter) CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	cfg, warnings, err := targeting.Translate("mock", nonNil(req.Targeting))
	if err != nil {
		return nil, err
	}
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: "mock", Method: "POST", Target: "mock://campaigns",
			Payload: map[string]any{"order_name": req.OrderName, "budget": req.TotalBudget, "targeting": cfg},
		})
		a.opts.logger().InfoContext(ctx, "dry-run: would create mock campaign",
			"media_buy_id", req.MediaBuyID, "budget", req.TotalBudget)
		return &CreateResult{ExternalID: dryRunID("mock", req.MediaBuyID), Warnings: warnings}, nil
	}
	externalID := "mock_" + req.MediaBuyID
	a.mu.Lock()
	if _, exists := a.campaigns[externalID]; !exists {
		a.campaigns[externalID] = &mockCampaign{req: *req}
	}
	a.mu.Unlock()
	return &CreateResult{ExternalID: externalID, Warnings: warnings}, nil
}

func (a *mockAdapter) UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error {
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: "mock", Method: "PUT", Target: "mock://campaigns/" + req.ExternalID, Payload: req,
		})
		a.opts.logger().InfoContext(ctx, "dry-run: would update mock campaign", "external_id", req.ExternalID)
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.campaigns[req.ExternalID]
	if !ok {
		return errs.New(errs.KindNotFound, "mock campaign %s not found", req.ExternalID)
	}
	if req.TotalBudget > 0 {
		c.req.TotalBudget = req.TotalBudget
	}
	if !req.FlightEnd.IsZero() {
		c.req.FlightEnd = req.FlightEnd
	}
	if req.Targeting != nil {
		c.req.Targeting = req.Targeting
	}
	return nil
}

func (a *mockAdapter) Activate(ctx context.Context, externalID string) error {
	return a.setPaused(ctx, externalID, false, "activate")
}

func (a *mockAdapter) Pause(ctx context.Context, externalID string) error {
	return a.setPaused(ctx, externalID, true, "pause")
}

func (a *mockAdapter) Resume(ctx context.Context, externalID string) error {
	return a.setPaused(ctx, externalID, false, "resume")
}

func (a *mockAdapter) setPaused(ctx context.Context, externalID string, paused bool, op string) error {
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: "mock", Method: "POST", Target: "mock://campaigns/" + externalID + "/" + op,
		})
		a.opts.logger().InfoContext(ctx, "dry-run: would update mock campaign", "external_id", externalID, "op", op)
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.campaigns[externalID]
	if !ok {
		return errs.New(errs.KindNotFound, "mock campaign %s not found", externalID)
	}
	now := a.now()
	if c.paused && !paused {
		c.pausedFor += now.Sub(c.pausedAt)
	}
	if !c.paused && paused {
		c.pausedAt = now
	}
	c.paused = paused
	return nil
}

func (a *mockAdapter) GetStatus(_ context.Context, externalID string) (*Status, error) {
	now := a.now()
	if a.opts.DryRun {
		return &Status{ExternalID: externalID, State: "active", AsOf: now}, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.campaigns[externalID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "mock campaign %s not found", externalID)
	}
	state := "active"
	switch {
	case now.After(c.req.FlightEnd):
		state = "completed"
	case c.paused:
		state = "paused"
	case now.Before(c.req.FlightStart):
		state = "scheduled"
	}
	return &Status{ExternalID: externalID, State: state, AsOf: now}, nil
}

// GetPerformance paces the booked impressions linearly across the flight,
// scaled by the fill rate and clipped by the daily cap.
func (a *mockAdapter) GetPerformance(_ context.Context, externalID string, start, end time.Time) (*Performance, error) {
	if a.opts.DryRun {
		return &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}, nil
	}
	a.mu.Lock()
	c, ok := a.campaigns[externalID]
	a.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "mock campaign %s not found", externalID)
	}

	perf := &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}
	elapsed := overlap(c.req.FlightStart, c.req.FlightEnd, start, minTime(end, a.now()))
	elapsed -= c.pausedFor
	if elapsed <= 0 {
		return perf, nil
	}
	total := c.req.FlightEnd.Sub(c.req.FlightStart)
	if total <= 0 {
		return perf, nil
	}
	frac := math.Min(elapsed.Seconds()/total.Seconds(), 1)

	for _, pkg := range c.req.Packages {
		imps := int64(float64(pkg.Impressions) * frac * a.cfg.FillRate)
		if cap := a.cfg.DailyImpressionCap; cap > 0 {
			days := int64(elapsed.Hours()/24) + 1
			if imps > cap*days {
				imps = cap * days
			}
		}
		spend := float64(imps) / 1000 * pkg.CPM
		perf.Packages = append(perf.Packages, PackageDelivery{
			PackageID: pkg.PackageID, Impressions: imps, Spend: spend,
		})
		perf.Impressions += imps
		perf.Spend += spend
	}
	return perf, nil
}

func nonNil(t *domain.TargetingOverlay) *domain.TargetingOverlay {
	if t == nil {
		return &domain.TargetingOverlay{}
	}
	return t
}

func flightDays(start, end time.Time) int64 {
	d := int64(end.Sub(start).Hours() / 24)
	if d < 1 {
		d = 1
	}
	return d
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := maxTime(aStart, bStart)
	end := minTime(aEnd, bEnd)
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
