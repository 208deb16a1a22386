package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/targeting"
)

const gamDefaultBaseURL = "https://admanager.googleapis.com/v1"

// gamAdapter drives Google Ad Manager. An order is created per media buy and
// one line item per package; lifecycle operations map to order actions.
type gamAdapter struct {
	cfg    domain.GoogleAdManagerConfig
	client *platformClient
	opts   Options
}

func newGAMAdapter(tenant *domain.Tenant, opts Options) (Adapter, error) {
	if tenant.AdapterConfig.GAM == nil {
		return nil, errs.New(errs.KindValidation, "tenant %s has no google_ad_manager config", tenant.ID)
	}
	cfg := *tenant.AdapterConfig.GAM
	if cfg.NetworkCode == "" {
		return nil, errs.New(errs.KindValidation, "google_ad_manager config missing network_code")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = gamDefaultBaseURL
	}
	return &gamAdapter{
		cfg: cfg,
		client: newPlatformClient(map[string]string{
			"Authorization": "Bearer " + cfg.RefreshToken,
		}),
		opts: opts,
	}, nil
}

func (a *gamAdapter) Name() string { return "google_ad_manager" }

func (a *gamAdapter) url(path string, args ...any) string {
	return joinURL(a.cfg.BaseURL, "/networks/"+a.cfg.NetworkCode+path, args...)
}

func (a *gamAdapter) GetAvails(ctx context.Context, req *AvailsRequest) (*Avails, error) {
	criteria, warnings, err := targeting.Translate("google_ad_manager", nonNil(req.Targeting))
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"targeting": criteria,
		"dateRange": gamDateRange(req.FlightStart, req.FlightEnd),
	}
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: a.Name(), Method: "POST", Target: a.url("/forecasts:availability"), Payload: payload,
		})
		return &Avails{ProductID: req.Product.ProductID, Warnings: warnings}, nil
	}
	var resp struct {
		AvailableUnits int64 `json:"availableUnits"`
	}
	if err := a.client.doJSON(ctx, "POST", a.url("/forecasts:availability"), payload, &resp); err != nil {
		return nil, err
	}
	return &Avails{ProductID: req.Product.ProductID, AvailImpressions: resp.AvailableUnits, Warnings: warnings}, nil
}

func (a *gamAdapter) CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if req.AdvertiserID == "" {
		return nil, errs.New(errs.KindValidation, "principal has no google_ad_manager advertiser mapping")
	}
	criteria, warnings, err := targeting.Translate("google_ad_manager", nonNil(req.Targeting))
	if err != nil {
		return nil, err
	}

	order := map[string]any{
		"name":         req.OrderName,
		"advertiserId": req.AdvertiserID,
		"externalId":   req.MediaBuyID,
		"startDate":    req.FlightStart.Format("2006-01-02"),
		"endDate":      req.FlightEnd.Format("2006-01-02"),
	}
	if a.cfg.TraffickerID != "" {
		order["traffickerId"] = a.cfg.TraffickerID
	}
	if a.cfg.OrderTeamID != "" {
		order["appliedTeamIds"] = []string{a.cfg.OrderTeamID}
	}

	lineItems := make([]map[string]any, 0, len(req.Packages))
	for _, pkg := range req.Packages {
		pkgCriteria := criteria
		if pkg.Targeting != nil {
			pkgCriteria, _, err = targeting.Translate("google_ad_manager", pkg.Targeting)
			if err != nil {
				return nil, err
			}
		}
		lineItems = append(lineItems, map[string]any{
			"name":          pkg.Name,
			"lineItemType":  gamLineItemType(pkg.Delivery),
			"costPerUnit":   map[string]any{"currencyCode": "USD", "microAmount": int64(pkg.CPM * 1_000_000)},
			"unitsBought":   pkg.Impressions,
			"targeting":     pkgCriteria,
			"externalId":    pkg.PackageID,
			"startDateTime": req.FlightStart.Format(time.RFC3339),
			"endDateTime":   req.FlightEnd.Format(time.RFC3339),
		})
	}

	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: a.Name(), Method: "POST", Target: a.url("/orders"),
			Payload: map[string]any{"order": order, "lineItems": lineItems},
		})
		a.opts.logger().InfoContext(ctx, "dry-run: would create GAM order",
			"media_buy_id", req.MediaBuyID, "line_items", len(lineItems))
		return &CreateResult{ExternalID: dryRunID(a.Name(), req.MediaBuyID), Warnings: warnings}, nil
	}

	// A crashed persist leaves the order behind; look it up by the external
	// ID stamped at create time instead of booking it twice.
	if existing, err := a.findOrder(ctx, req.MediaBuyID); err != nil {
		return nil, err
	} else if existing != "" {
		return &CreateResult{ExternalID: existing, Warnings: warnings}, nil
	}

	var created struct {
		OrderID string `json:"orderId"`
	}
	if err := a.client.doJSON(ctx, "POST", a.url("/orders"), order, &created); err != nil {
		return nil, err
	}
	for _, li := range lineItems {
		li["orderId"] = created.OrderID
		if err := a.client.doJSON(ctx, "POST", a.url("/lineItems"), li, nil); err != nil {
			return nil, errs.Wrap(errs.KindOf(err), err, "creating line item for order %s", created.OrderID)
		}
	}
	return &CreateResult{ExternalID: created.OrderID, Warnings: warnings}, nil
}

// findOrder returns the order ID carrying mediaBuyID as its external ID, or
// "" when no such order exists.
func (a *gamAdapter) findOrder(ctx context.Context, mediaBuyID string) (string, error) {
	var resp struct {
		Orders []struct {
			OrderID string `json:"orderId"`
		} `json:"orders"`
	}
	if err := a.client.doJSON(ctx, "GET", a.url("/orders?externalId=%s", mediaBuyID), nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Orders) == 0 {
		return "", nil
	}
	return resp.Orders[0].OrderID, nil
}

func (a *gamAdapter) UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error {
	patch := map[string]any{}
	if req.TotalBudget > 0 {
		patch["budget"] = map[string]any{"currencyCode": "USD", "microAmount": int64(req.TotalBudget * 1_000_000)}
	}
	if !req.FlightEnd.IsZero() {
		patch["endDate"] = req.FlightEnd.Format("2006-01-02")
	}
	if req.Targeting != nil {
		criteria, _, err := targeting.Translate("google_ad_manager", req.Targeting)
		if err != nil {
			return err
		}
		patch["targeting"] = criteria
	}
	target := a.url("/orders/%s", req.ExternalID)
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{Adapter: a.Name(), Method: "PATCH", Target: target, Payload: patch})
		a.opts.logger().InfoContext(ctx, "dry-run: would update GAM order", "external_id", req.ExternalID)
		return nil
	}
	return a.client.doJSON(ctx, "PATCH", target, patch, nil)
}

func (a *gamAdapter) Activate(ctx context.Context, externalID string) error {
	return a.orderAction(ctx, externalID, "approve")
}

func (a *gamAdapter) Pause(ctx context.Context, externalID string) error {
	return a.orderAction(ctx, externalID, "pause")
}

func (a *gamAdapter) Resume(ctx context.Context, externalID string) error {
	return a.orderAction(ctx, externalID, "resume")
}

func (a *gamAdapter) orderAction(ctx context.Context, externalID, action string) error {
	target := a.url("/orders/%s:%s", externalID, action)
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{Adapter: a.Name(), Method: "POST", Target: target})
		a.opts.logger().InfoContext(ctx, "dry-run: would apply GAM order action",
			"external_id", externalID, "action", action)
		return nil
	}
	return a.client.doJSON(ctx, "POST", target, nil, nil)
}

func (a *gamAdapter) GetStatus(ctx context.Context, externalID string) (*Status, error) {
	if a.opts.DryRun {
		return &Status{ExternalID: externalID, State: "active", AsOf: time.Now().UTC()}, nil
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := a.client.doJSON(ctx, "GET", a.url("/orders/%s", externalID), nil, &resp); err != nil {
		return nil, err
	}
	return &Status{ExternalID: externalID, State: gamStateToNeutral(resp.Status), AsOf: time.Now().UTC()}, nil
}

func (a *gamAdapter) GetPerformance(ctx context.Context, externalID string, start, end time.Time) (*Performance, error) {
	if a.opts.DryRun {
		return &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}, nil
	}
	payload := map[string]any{
		"dimensions": []string{"LINE_ITEM_EXTERNAL_ID"},
		"metrics":    []string{"AD_SERVER_IMPRESSIONS", "AD_SERVER_CPM_AND_CPC_REVENUE"},
		"filters":    map[string]any{"orderId": externalID},
		"dateRange":  gamDateRange(start, end),
	}
	var resp struct {
		Rows []struct {
			PackageID   string  `json:"lineItemExternalId"`
			Impressions int64   `json:"adServerImpressions"`
			Revenue     float64 `json:"adServerCpmAndCpcRevenue"`
		} `json:"rows"`
	}
	if err := a.client.doJSON(ctx, "POST", a.url("/reports:run"), payload, &resp); err != nil {
		return nil, err
	}
	perf := &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}
	for _, row := range resp.Rows {
		spend := row.Revenue / 1_000_000 // Revenue is reported in micros.
		perf.Packages = append(perf.Packages, PackageDelivery{
			PackageID: row.PackageID, Impressions: row.Impressions, Spend: spend,
		})
		perf.Impressions += row.Impressions
		perf.Spend += spend
	}
	return perf, nil
}

func gamDateRange(start, end time.Time) map[string]string {
	return map[string]string{
		"startDate": start.Format("2006-01-02"),
		"endDate":   end.Format("2006-01-02"),
	}
}

func gamLineItemType(d domain.DeliveryType) string {
	if d == domain.DeliveryGuaranteed {
		return "STANDARD"
	}
	return "PRICE_PRIORITY"
}

func gamStateToNeutral(s string) string {
	switch s {
	case "DELIVERING", "APPROVED", "READY":
		return "active"
	case "PAUSED":
		return "paused"
	case "COMPLETED", "DELIVERY_EXTENDED":
		return "completed"
	default:
		return fmt.Sprintf("unknown(%s)", s)
	}
}
