package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/orchestrator"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("get_products",
		mcp.WithDescription("List the buyable product catalog. Optionally filter by a free-text brief matched against product names and descriptions."),
		mcp.WithString("brief", mcp.Description("Free-text campaign brief used to filter products.")),
	), s.wrap("get_products", s.handleGetProducts))

	s.mcp.AddTool(mcp.NewTool("get_avails",
		mcp.WithDescription("Forecast available impressions for a product over a flight window, with an optional targeting overlay."),
		mcp.WithString("product_id", mcp.Required(), mcp.Description("Product to forecast.")),
		mcp.WithString("start_date", mcp.Description("Flight start, YYYY-MM-DD or RFC 3339. Defaults to today.")),
		mcp.WithString("end_date", mcp.Description("Flight end. Defaults to 30 days after start.")),
		mcp.WithObject("targeting_overlay", mcp.Description("Targeting dimensions to apply to the forecast.")),
	), s.wrap("get_avails", s.handleGetAvails))

	s.mcp.AddTool(mcp.NewTool("get_signals",
		mcp.WithDescription("Discover audience and contextual signals usable in targeting overlays."),
		mcp.WithString("query", mcp.Description("Free-text match against signal names and descriptions.")),
		mcp.WithString("type", mcp.Description("Filter by signal type: audience or contextual.")),
	), s.wrap("get_signals", s.handleGetSignals))

	s.mcp.AddTool(mcp.NewTool("create_media_buy",
		mcp.WithDescription("Create a media buy from one or more product packages. Depending on publisher policy the buy activates immediately or waits for human approval."),
		mcp.WithString("order_name", mcp.Required(), mcp.Description("Human-readable order name.")),
		mcp.WithNumber("total_budget", mcp.Required(), mcp.Description("Total budget in USD.")),
		mcp.WithString("flight_start_date", mcp.Required(), mcp.Description("Flight start, YYYY-MM-DD or RFC 3339.")),
		mcp.WithString("flight_end_date", mcp.Required(), mcp.Description("Flight end, exclusive.")),
		mcp.WithArray("packages", mcp.Required(), mcp.Description("Packages: product_id plus optional cpm, budget, impressions, targeting.")),
		mcp.WithObject("targeting_overlay", mcp.Description("Buy-level targeting overlay.")),
	), s.wrap("create_media_buy", s.handleCreateMediaBuy))

	s.mcp.AddTool(mcp.NewTool("update_media_buy",
		mcp.WithDescription("Update budget, flight end, or targeting of a non-terminal media buy."),
		mcp.WithString("media_buy_id", mcp.Required(), mcp.Description("Media buy to update.")),
		mcp.WithNumber("total_budget", mcp.Description("New total budget in USD.")),
		mcp.WithString("flight_end_date", mcp.Description("New flight end.")),
		mcp.WithObject("targeting_overlay", mcp.Description("Replacement targeting overlay.")),
	), s.wrap("update_media_buy", s.handleUpdateMediaBuy))

	s.mcp.AddTool(mcp.NewTool("pause_media_buy",
		mcp.WithDescription("Pause delivery of an active media buy."),
		mcp.WithString("media_buy_id", mcp.Required()),
	), s.wrap("pause_media_buy", s.handlePauseMediaBuy))

	s.mcp.AddTool(mcp.NewTool("resume_media_buy",
		mcp.WithDescription("Resume delivery of a paused media buy."),
		mcp.WithString("media_buy_id", mcp.Required()),
	), s.wrap("resume_media_buy", s.handleResumeMediaBuy))

	s.mcp.AddTool(mcp.NewTool("check_media_buy_status",
		mcp.WithDescription("Return the current lifecycle state of a media buy."),
		mcp.WithString("media_buy_id", mcp.Required()),
	), s.wrap("check_media_buy_status", s.handleCheckStatus))

	s.mcp.AddTool(mcp.NewTool("get_media_buy_report",
		mcp.WithDescription("Return delivery (impressions and spend) for a media buy over a reporting window. Defaults to flight-to-date."),
		mcp.WithString("media_buy_id", mcp.Required()),
		mcp.WithString("start_date", mcp.Description("Window start. Defaults to flight start.")),
		mcp.WithString("end_date", mcp.Description("Window end. Defaults to now.")),
	), s.wrap("get_media_buy_report", s.handleGetReport))

	s.mcp.AddTool(mcp.NewTool("upload_creative",
		mcp.WithDescription("Upload a creative asset. Formats on the publisher's allow-list approve immediately; others enter human review. Optionally assign to a media buy package."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Creative name.")),
		mcp.WithString("format_id", mcp.Required(), mcp.Description("Creative format, e.g. display_300x250.")),
		mcp.WithString("content_uri", mcp.Required(), mcp.Description("URI of the creative asset.")),
		mcp.WithString("click_url", mcp.Description("Landing page URL.")),
		mcp.WithString("media_buy_id", mcp.Description("Media buy to assign the creative to once approved.")),
		mcp.WithString("package_id", mcp.Description("Package within the media buy.")),
	), s.wrap("upload_creative", s.handleUploadCreative))

	s.mcp.AddTool(mcp.NewTool("get_creative_status",
		mcp.WithDescription("Return the approval status of an uploaded creative."),
		mcp.WithString("creative_id", mcp.Required()),
	), s.wrap("get_creative_status", s.handleGetCreativeStatus))
}

// --- Catalog tools ---

func (s *Server) handleGetProducts(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	products, err := s.orch.ListProducts(ctx, id.tenant.ID)
	if err != nil {
		return nil, err
	}
	brief := req.GetString("brief", "")
	views := make([]productView, 0, len(products))
	for _, p := range products {
		if brief != "" && !matchesBrief(p, brief) {
			continue
		}
		views = append(views, toProductView(p))
	}
	return map[string]any{"products": views}, nil
}

func (s *Server) handleGetSignals(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	signals, err := s.orch.ListSignals(ctx, id.tenant.ID,
		req.GetString("query", ""), req.GetString("type", ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{"signals": signals}, nil
}

func (s *Server) handleGetAvails(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	var args struct {
		ProductID string                   `json:"product_id"`
		StartDate string                   `json:"start_date"`
		EndDate   string                   `json:"end_date"`
		Targeting *domain.TargetingOverlay `json:"targeting_overlay"`
	}
	if err := req.BindArguments(&args); err != nil {
		return nil, errs.Validation("", "decoding arguments: %v", err)
	}
	if args.ProductID == "" {
		return nil, errs.Validation("product_id", "product_id is required")
	}
	start, err := parseDateOr(args.StartDate, time.Now().UTC())
	if err != nil {
		return nil, errs.Validation("start_date", "%v", err)
	}
	end, err := parseDateOr(args.EndDate, start.AddDate(0, 0, 30))
	if err != nil {
		return nil, errs.Validation("end_date", "%v", err)
	}
	return s.orch.GetAvails(ctx, id.tenant, args.ProductID, args.Targeting, start, end)
}

// --- Media buy tools ---

func (s *Server) handleCreateMediaBuy(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	var args struct {
		OrderName       string                   `json:"order_name"`
		TotalBudget     float64                  `json:"total_budget"`
		FlightStartDate string                   `json:"flight_start_date"`
		FlightEndDate   string                   `json:"flight_end_date"`
		Packages        []domain.MediaPackage    `json:"packages"`
		Targeting       *domain.TargetingOverlay `json:"targeting_overlay"`
	}
	if err := req.BindArguments(&args); err != nil {
		return nil, errs.Validation("", "decoding arguments: %v", err)
	}
	start, err := parseDate(args.FlightStartDate)
	if err != nil {
		return nil, errs.Validation("flight_start_date", "%v", err)
	}
	end, err := parseDate(args.FlightEndDate)
	if err != nil {
		return nil, errs.Validation("flight_end_date", "%v", err)
	}
	raw, _ := json.Marshal(req.GetArguments())

	buy, warnings, err := s.orch.CreateMediaBuy(ctx, id.tenant, id.principal, &orchestrator.CreateBuyRequest{
		OrderName:   args.OrderName,
		TotalBudget: args.TotalBudget,
		FlightStart: start,
		FlightEnd:   end,
		Packages:    args.Packages,
		Targeting:   args.Targeting,
		Raw:         raw,
	})
	if err != nil {
		return nil, err
	}
	resp := createBuyResponse{MediaBuy: toBuyView(buy), Warnings: warnings}
	if buy.State == domain.BuyPendingApproval {
		resp.Detail = "media buy is awaiting publisher approval"
	}
	return resp, nil
}

func (s *Server) handleUpdateMediaBuy(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	var args struct {
		MediaBuyID    string                   `json:"media_buy_id"`
		TotalBudget   *float64                 `json:"total_budget"`
		FlightEndDate *string                  `json:"flight_end_date"`
		Targeting     *domain.TargetingOverlay `json:"targeting_overlay"`
	}
	if err := req.BindArguments(&args); err != nil {
		return nil, errs.Validation("", "decoding arguments: %v", err)
	}
	if args.MediaBuyID == "" {
		return nil, errs.Validation("media_buy_id", "media_buy_id is required")
	}
	update := &orchestrator.UpdateBuyRequest{
		TotalBudget: args.TotalBudget,
		Targeting:   args.Targeting,
	}
	if args.FlightEndDate != nil {
		end, err := parseDate(*args.FlightEndDate)
		if err != nil {
			return nil, errs.Validation("flight_end_date", "%v", err)
		}
		update.FlightEnd = &end
	}
	buy, err := s.orch.UpdateMediaBuy(ctx, id.tenant, id.principal, args.MediaBuyID, update)
	if err != nil {
		return nil, err
	}
	return toBuyView(buy), nil
}

func (s *Server) handlePauseMediaBuy(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	buyID, err := req.RequireString("media_buy_id")
	if err != nil {
		return nil, errs.Validation("media_buy_id", "media_buy_id is required")
	}
	buy, err := s.orch.PauseMediaBuy(ctx, id.tenant, id.principal, buyID)
	if err != nil {
		return nil, err
	}
	return toBuyView(buy), nil
}

func (s *Server) handleResumeMediaBuy(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	buyID, err := req.RequireString("media_buy_id")
	if err != nil {
		return nil, errs.Validation("media_buy_id", "media_buy_id is required")
	}
	buy, err := s.orch.ResumeMediaBuy(ctx, id.tenant, id.principal, buyID)
	if err != nil {
		return nil, err
	}
	return toBuyView(buy), nil
}

func (s *Server) handleCheckStatus(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	buyID, err := req.RequireString("media_buy_id")
	if err != nil {
		return nil, errs.Validation("media_buy_id", "media_buy_id is required")
	}
	buy, err := s.orch.GetMediaBuy(ctx, id.tenant.ID, id.principal, buyID)
	if err != nil {
		return nil, err
	}
	return toBuyView(buy), nil
}

func (s *Server) handleGetReport(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	buyID, err := req.RequireString("media_buy_id")
	if err != nil {
		return nil, errs.Validation("media_buy_id", "media_buy_id is required")
	}
	buy, err := s.orch.GetMediaBuy(ctx, id.tenant.ID, id.principal, buyID)
	if err != nil {
		return nil, err
	}
	start, err := parseDateOr(req.GetString("start_date", ""), buy.FlightStart)
	if err != nil {
		return nil, errs.Validation("start_date", "%v", err)
	}
	end, err := parseDateOr(req.GetString("end_date", ""), time.Now().UTC())
	if err != nil {
		return nil, errs.Validation("end_date", "%v", err)
	}
	perf, err := s.orch.GetPerformance(ctx, id.tenant, id.principal, buyID, start, end)
	if err != nil {
		return nil, err
	}
	return reportView{
		MediaBuyID:  buy.MediaBuyID,
		State:       string(buy.State),
		Impressions: perf.Impressions,
		Spend:       perf.Spend,
		Packages:    perf.Packages,
		WindowStart: perf.WindowStart,
		WindowEnd:   perf.WindowEnd,
	}, nil
}

// --- Creative tools ---

func (s *Server) handleUploadCreative(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	var args struct {
		Name       string `json:"name"`
		FormatID   string `json:"format_id"`
		ContentURI string `json:"content_uri"`
		ClickURL   string `json:"click_url"`
		MediaBuyID string `json:"media_buy_id"`
		PackageID  string `json:"package_id"`
	}
	if err := req.BindArguments(&args); err != nil {
		return nil, errs.Validation("", "decoding arguments: %v", err)
	}
	creative, task, err := s.wf.UploadCreative(ctx, id.tenant, id.principal, &domain.Creative{
		Name:       args.Name,
		FormatID:   args.FormatID,
		ContentURI: args.ContentURI,
		ClickURL:   args.ClickURL,
	})
	if err != nil {
		return nil, err
	}

	resp := uploadCreativeResponse{Creative: toCreativeView(creative)}
	if task != nil {
		resp.ReviewTaskID = task.TaskID.String()
	}
	if args.MediaBuyID != "" && args.PackageID != "" {
		if creative.Status.Assignable() {
			a, aerr := s.wf.AssignCreative(ctx, id.tenant.ID, id.principal.ID, creative.CreativeID, args.MediaBuyID, args.PackageID)
			if aerr != nil {
				return nil, aerr
			}
			resp.AssignmentID = a.ID.String()
		} else {
			resp.Detail = "assignment deferred until the creative is approved"
		}
	}
	return resp, nil
}

func (s *Server) handleGetCreativeStatus(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error) {
	creativeID, err := req.RequireString("creative_id")
	if err != nil {
		return nil, errs.Validation("creative_id", "creative_id is required")
	}
	c, err := s.wf.CreativeByID(ctx, id.tenant.ID, id.principal.ID, creativeID)
	if err != nil {
		return nil, err
	}
	return toCreativeView(c), nil
}

// --- Helpers ---

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errs.New(errs.KindValidation, "invalid date %q, want YYYY-MM-DD or RFC 3339", v)
	}
	return t.UTC(), nil
}

func parseDateOr(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	return parseDate(v)
}
