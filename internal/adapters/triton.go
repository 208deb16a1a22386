package adapters

import (
	"context"
	"strings"
	"time"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/targeting"
)

const tritonDefaultBaseURL = "https://api.tritondigital.com/v1"

// tritonAdapter drives Triton Digital's audio ad server. Triton only accepts
// audio creatives, so every package must carry audio formats.
type tritonAdapter struct {
	cfg    domain.TritonDigitalAdapterConfig
	client *platformClient
	opts   Options
}

func newTritonAdapter(tenant *domain.Tenant, opts Options) (Adapter, error) {
	if tenant.AdapterConfig.Triton == nil {
		return nil, errs.New(errs.KindValidation, "tenant %s has no triton config", tenant.ID)
	}
	cfg := *tenant.AdapterConfig.Triton
	if cfg.StationID == "" {
		return nil, errs.New(errs.KindValidation, "triton config missing station_id")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = tritonDefaultBaseURL
	}
	return &tritonAdapter{
		cfg:    cfg,
		client: newPlatformClient(map[string]string{"Authorization": "Bearer " + cfg.APIKey}),
		opts:   opts,
	}, nil
}

func (a *tritonAdapter) Name() string { return "triton" }

func (a *tritonAdapter) GetAvails(ctx context.Context, req *AvailsRequest) (*Avails, error) {
	criteria, warnings, err := targeting.Translate("triton", nonNil(req.Targeting))
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"stationId": a.cfg.StationID,
		"targeting": criteria,
		"startDate": req.FlightStart.Format("2006-01-02"),
		"endDate":   req.FlightEnd.Format("2006-01-02"),
	}
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: a.Name(), Method: "POST", Target: a.cfg.BaseURL + "/forecast", Payload: payload,
		})
		return &Avails{ProductID: req.Product.ProductID, Warnings: warnings}, nil
	}
	var resp struct {
		AvailableImpressions int64 `json:"availableImpressions"`
	}
	if err := a.client.doJSON(ctx, "POST", a.cfg.BaseURL+"/forecast", payload, &resp); err != nil {
		return nil, err
	}
	return &Avails{ProductID: req.Product.ProductID, AvailImpressions: resp.AvailableImpressions, Warnings: warnings}, nil
}

func (a *tritonAdapter) CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if req.AdvertiserID == "" {
		return nil, errs.New(errs.KindValidation, "principal has no triton advertiser mapping")
	}
	for _, pkg := range req.Packages {
		for _, formatID := range pkg.FormatIDs {
			if !strings.HasPrefix(formatID, "audio") {
				return nil, errs.Validation("packages",
					"triton accepts audio formats only, package %s carries %s", pkg.PackageID, formatID)
			}
		}
	}
	criteria, warnings, err := targeting.Translate("triton", nonNil(req.Targeting))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"stationId":    a.cfg.StationID,
		"name":         req.OrderName,
		"advertiserId": req.AdvertiserID,
		"externalId":   req.MediaBuyID,
		"startDate":    req.FlightStart.Format("2006-01-02"),
		"endDate":      req.FlightEnd.Format("2006-01-02"),
		"budget":       req.TotalBudget,
		"targeting":    criteria,
		"spots":        tritonSpots(req.Packages),
	}
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: a.Name(), Method: "POST", Target: a.cfg.BaseURL + "/campaigns", Payload: payload,
		})
		a.opts.logger().InfoContext(ctx, "dry-run: would create Triton campaign",
			"media_buy_id", req.MediaBuyID, "budget", req.TotalBudget)
		return &CreateResult{ExternalID: dryRunID(a.Name(), req.MediaBuyID), Warnings: warnings}, nil
	}

	// A crashed persist leaves the campaign behind; look it up by external ID
	// instead of booking it twice.
	if existing, err := a.findCampaign(ctx, req.MediaBuyID); err != nil {
		return nil, err
	} else if existing != "" {
		return &CreateResult{ExternalID: existing, Warnings: warnings}, nil
	}

	var created struct {
		CampaignID string `json:"campaignId"`
	}
	if err := a.client.doJSON(ctx, "POST", a.cfg.BaseURL+"/campaigns", payload, &created); err != nil {
		return nil, err
	}
	return &CreateResult{ExternalID: created.CampaignID, Warnings: warnings}, nil
}

// findCampaign returns the campaign ID carrying mediaBuyID as its external
// ID, or "" when no such campaign exists.
func (a *tritonAdapter) findCampaign(ctx context.Context, mediaBuyID string) (string, error) {
	var resp struct {
		Campaigns []struct {
			CampaignID string `json:"campaignId"`
		} `json:"campaigns"`
	}
	if err := a.client.doJSON(ctx, "GET", joinURL(a.cfg.BaseURL, "/campaigns?externalId=%s", mediaBuyID), nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Campaigns) == 0 {
		return "", nil
	}
	return resp.Campaigns[0].CampaignID, nil
}

func (a *tritonAdapter) UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error {
	payload := map[string]any{}
	if req.TotalBudget > 0 {
		payload["budget"] = req.TotalBudget
	}
	if !req.FlightEnd.IsZero() {
		payload["endDate"] = req.FlightEnd.Format("2006-01-02")
	}
	if req.Targeting != nil {
		criteria, _, err := targeting.Translate("triton", req.Targeting)
		if err != nil {
			return err
		}
		payload["targeting"] = criteria
	}
	target := joinURL(a.cfg.BaseURL, "/campaigns/%s", req.ExternalID)
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{Adapter: a.Name(), Method: "PUT", Target: target, Payload: payload})
		a.opts.logger().InfoContext(ctx, "dry-run: would update Triton campaign", "external_id", req.ExternalID)
		return nil
	}
	return a.client.doJSON(ctx, "PUT", target, payload, nil)
}

func (a *tritonAdapter) Activate(ctx context.Context, externalID string) error {
	return a.campaignAction(ctx, externalID, "start")
}

func (a *tritonAdapter) Pause(ctx context.Context, externalID string) error {
	return a.campaignAction(ctx, externalID, "pause")
}

func (a *tritonAdapter) Resume(ctx context.Context, externalID string) error {
	return a.campaignAction(ctx, externalID, "resume")
}

func (a *tritonAdapter) campaignAction(ctx context.Context, externalID, action string) error {
	target := joinURL(a.cfg.BaseURL, "/campaigns/%s/%s", externalID, action)
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{Adapter: a.Name(), Method: "POST", Target: target})
		a.opts.logger().InfoContext(ctx, "dry-run: would apply Triton campaign action",
			"external_id", externalID, "action", action)
		return nil
	}
	return a.client.doJSON(ctx, "POST", target, nil, nil)
}

func (a *tritonAdapter) GetStatus(ctx context.Context, externalID string) (*Status, error) {
	now := time.Now().UTC()
	if a.opts.DryRun {
		return &Status{ExternalID: externalID, State: "active", AsOf: now}, nil
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := a.client.doJSON(ctx, "GET", joinURL(a.cfg.BaseURL, "/campaigns/%s", externalID), nil, &resp); err != nil {
		return nil, err
	}
	return &Status{ExternalID: externalID, State: strings.ToLower(resp.Status), AsOf: now}, nil
}

func (a *tritonAdapter) GetPerformance(ctx context.Context, externalID string, start, end time.Time) (*Performance, error) {
	if a.opts.DryRun {
		return &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}, nil
	}
	target := joinURL(a.cfg.BaseURL, "/campaigns/%s/delivery?start=%s&end=%s",
		externalID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	var resp struct {
		Spots []struct {
			SpotID      string  `json:"spotId"`
			Impressions int64   `json:"impressions"`
			Spend       float64 `json:"spend"`
		} `json:"spots"`
	}
	if err := a.client.doJSON(ctx, "GET", target, nil, &resp); err != nil {
		return nil, err
	}
	perf := &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}
	for _, s := range resp.Spots {
		perf.Packages = append(perf.Packages, PackageDelivery{
			PackageID: s.SpotID, Impressions: s.Impressions, Spend: s.Spend,
		})
		perf.Impressions += s.Impressions
		perf.Spend += s.Spend
	}
	return perf, nil
}

func tritonSpots(packages []domain.MediaPackage) []map[string]any {
	spots := make([]map[string]any, 0, len(packages))
	for _, pkg := range packages {
		spots = append(spots, map[string]any{
			"spotId":      pkg.PackageID,
			"name":        pkg.Name,
			"cpm":         pkg.CPM,
			"impressions": pkg.Impressions,
		})
	}
	return spots
}
