package adapters

import (
	"context"
	"time"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/targeting"
)

const kevelDefaultBaseURL = "https://api.kevel.co/v1"

// kevelAdapter drives Kevel. A campaign is created per media buy and one
// flight per package. Audience targeting requires the tenant's UserDB to be
// enabled, mirroring the platform's own precondition.
type kevelAdapter struct {
	cfg    domain.KevelAdapterConfig
	client *platformClient
	opts   Options
}

func newKevelAdapter(tenant *domain.Tenant, opts Options) (Adapter, error) {
	if tenant.AdapterConfig.Kevel == nil {
		return nil, errs.New(errs.KindValidation, "tenant %s has no kevel config", tenant.ID)
	}
	cfg := *tenant.AdapterConfig.Kevel
	if cfg.NetworkID == 0 {
		return nil, errs.New(errs.KindValidation, "kevel config missing network_id")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = kevelDefaultBaseURL
	}
	return &kevelAdapter{
		cfg:    cfg,
		client: newPlatformClient(map[string]string{"X-Adzerk-ApiKey": cfg.APIKey}),
		opts:   opts,
	}, nil
}

func (a *kevelAdapter) Name() string { return "kevel" }

func (a *kevelAdapter) translate(t *domain.TargetingOverlay) (map[string]any, []string, error) {
	criteria, warnings, err := targeting.Translate("kevel", nonNil(t))
	if err != nil {
		return nil, nil, err
	}
	if _, hasCustom := criteria["customTargeting"]; hasCustom && !a.cfg.UserDBEnabled {
		delete(criteria, "customTargeting")
		warnings = append(warnings, "audience targeting requires UserDB which is not enabled; dropped")
	}
	return criteria, warnings, nil
}

func (a *kevelAdapter) GetAvails(ctx context.Context, req *AvailsRequest) (*Avails, error) {
	_, warnings, err := a.translate(req.Targeting)
	if err != nil {
		return nil, err
	}
	// Kevel has no forecast API; answer from the product's own sizing and
	// surface the translation warnings so the caller sees dropped dimensions.
	return &Avails{ProductID: req.Product.ProductID, AvailImpressions: -1, Warnings: warnings}, nil
}

func (a *kevelAdapter) CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if req.AdvertiserID == "" {
		return nil, errs.New(errs.KindValidation, "principal has no kevel advertiser mapping")
	}
	criteria, warnings, err := a.translate(req.Targeting)
	if err != nil {
		return nil, err
	}

	campaign := map[string]any{
		"Name":         req.OrderName,
		"AdvertiserId": req.AdvertiserID,
		"ExternalId":   req.MediaBuyID,
		"StartDate":    req.FlightStart.Format(time.RFC3339),
		"EndDate":      req.FlightEnd.Format(time.RFC3339),
		"IsActive":     false, // Activated explicitly after creative assignment.
	}
	flights := make([]map[string]any, 0, len(req.Packages))
	for _, pkg := range req.Packages {
		flightCriteria := criteria
		var flightWarnings []string
		if pkg.Targeting != nil {
			flightCriteria, flightWarnings, err = a.translate(pkg.Targeting)
			if err != nil {
				return nil, err
			}
			warnings = append(warnings, flightWarnings...)
		}
		flights = append(flights, map[string]any{
			"Name":               pkg.Name,
			"Price":              pkg.CPM,
			"Impressions":        pkg.Impressions,
			"GoalType":           2, // Impression goal.
			"RateType":           2, // CPM.
			"CapType":            1,
			"StartDate":          req.FlightStart.Format(time.RFC3339),
			"EndDate":            req.FlightEnd.Format(time.RFC3339),
			"CustomFieldsJson":   pkg.PackageID,
			"Targeting":          flightCriteria,
		})
	}

	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{
			Adapter: a.Name(), Method: "POST", Target: a.cfg.BaseURL + "/campaign",
			Payload: map[string]any{"campaign": campaign, "flights": flights},
		})
		a.opts.logger().InfoContext(ctx, "dry-run: would create Kevel campaign",
			"media_buy_id", req.MediaBuyID, "flights", len(flights))
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
		ID int64 `json:"Id"`
	}
	if err := a.client.doJSON(ctx, "POST", a.cfg.BaseURL+"/campaign", campaign, &created); err != nil {
		return nil, err
	}
	externalID := formatInt(created.ID)
	for _, f := range flights {
		f["CampaignId"] = created.ID
		if err := a.client.doJSON(ctx, "POST", a.cfg.BaseURL+"/flight", f, nil); err != nil {
			return nil, errs.Wrap(errs.KindOf(err), err, "creating flight for campaign %s", externalID)
		}
	}
	return &CreateResult{ExternalID: externalID, Warnings: warnings}, nil
}

// findCampaign returns the campaign ID carrying mediaBuyID as its external
// ID, or "" when no such campaign exists.
func (a *kevelAdapter) findCampaign(ctx context.Context, mediaBuyID string) (string, error) {
	var resp struct {
		Items []struct {
			ID int64 `json:"Id"`
		} `json:"items"`
	}
	if err := a.client.doJSON(ctx, "GET", joinURL(a.cfg.BaseURL, "/campaign/search?externalId=%s", mediaBuyID), nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", nil
	}
	return formatInt(resp.Items[0].ID), nil
}

func (a *kevelAdapter) UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error {
	payload := map[string]any{}
	if !req.FlightEnd.IsZero() {
		payload["EndDate"] = req.FlightEnd.Format(time.RFC3339)
	}
	if req.Targeting != nil {
		criteria, _, err := a.translate(req.Targeting)
		if err != nil {
			return err
		}
		payload["Targeting"] = criteria
	}
	target := joinURL(a.cfg.BaseURL, "/campaign/%s", req.ExternalID)
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{Adapter: a.Name(), Method: "PUT", Target: target, Payload: payload})
		a.opts.logger().InfoContext(ctx, "dry-run: would update Kevel campaign", "external_id", req.ExternalID)
		return nil
	}
	return a.client.doJSON(ctx, "PUT", target, payload, nil)
}

func (a *kevelAdapter) Activate(ctx context.Context, externalID string) error {
	return a.setActive(ctx, externalID, true, "activate")
}

func (a *kevelAdapter) Pause(ctx context.Context, externalID string) error {
	return a.setActive(ctx, externalID, false, "pause")
}

func (a *kevelAdapter) Resume(ctx context.Context, externalID string) error {
	return a.setActive(ctx, externalID, true, "resume")
}

func (a *kevelAdapter) setActive(ctx context.Context, externalID string, active bool, op string) error {
	target := joinURL(a.cfg.BaseURL, "/campaign/%s", externalID)
	payload := map[string]any{"IsActive": active}
	if a.opts.DryRun {
		a.opts.Recorder.Record(RecordedCall{Adapter: a.Name(), Method: "PUT", Target: target, Payload: payload})
		a.opts.logger().InfoContext(ctx, "dry-run: would update Kevel campaign",
			"external_id", externalID, "op", op)
		return nil
	}
	return a.client.doJSON(ctx, "PUT", target, payload, nil)
}

func (a *kevelAdapter) GetStatus(ctx context.Context, externalID string) (*Status, error) {
	now := time.Now().UTC()
	if a.opts.DryRun {
		return &Status{ExternalID: externalID, State: "active", AsOf: now}, nil
	}
	var resp struct {
		IsActive bool   `json:"IsActive"`
		EndDate  string `json:"EndDate"`
	}
	if err := a.client.doJSON(ctx, "GET", joinURL(a.cfg.BaseURL, "/campaign/%s", externalID), nil, &resp); err != nil {
		return nil, err
	}
	state := "paused"
	if resp.IsActive {
		state = "active"
	}
	if end, err := time.Parse(time.RFC3339, resp.EndDate); err == nil && now.After(end) {
		state = "completed"
	}
	return &Status{ExternalID: externalID, State: state, AsOf: now}, nil
}

func (a *kevelAdapter) GetPerformance(ctx context.Context, externalID string, start, end time.Time) (*Performance, error) {
	if a.opts.DryRun {
		return &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}, nil
	}
	payload := map[string]any{
		"StartDate": start.Format("2006-01-02"),
		"EndDate":   end.Format("2006-01-02"),
		"GroupBy":   []string{"flight"},
		"Parameters": []map[string]any{
			{"campaignId": externalID},
		},
	}
	var resp struct {
		Records []struct {
			Title       string  `json:"Title"`
			Impressions int64   `json:"Impressions"`
			Revenue     float64 `json:"Revenue"`
		} `json:"Records"`
	}
	if err := a.client.doJSON(ctx, "POST", a.cfg.BaseURL+"/report/queue", payload, &resp); err != nil {
		return nil, err
	}
	perf := &Performance{ExternalID: externalID, WindowStart: start, WindowEnd: end}
	for _, rec := range resp.Records {
		perf.Packages = append(perf.Packages, PackageDelivery{
			PackageID: rec.Title, Impressions: rec.Impressions, Spend: rec.Revenue,
		})
		perf.Impressions += rec.Impressions
		perf.Spend += rec.Revenue
	}
	return perf, nil
}
