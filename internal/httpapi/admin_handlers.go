package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/notification"
)

// --- Audit trail ---

// AuditQueryRequest filters the audit query. Zero values match everything.
type AuditQueryRequest struct {
	Operation   string     `json:"operation,omitempty"`
	PrincipalID string     `json:"principal_id,omitempty"`
	Success     *bool      `json:"success,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// AuditEntryResponse is one audit trail entry, newest first.
type AuditEntryResponse struct {
	ID          string         `json:"id"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Operation   string         `json:"operation"`
	Success     bool           `json:"success"`
	Detail      map[string]any `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (g *Gateway) handleAuditQuery(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	var req AuditQueryRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	filter := auditlog.Filter{
		Operation:   req.Operation,
		PrincipalID: req.PrincipalID,
		Success:     req.Success,
		Limit:       req.Limit,
	}
	if req.Since != nil {
		filter.Since = *req.Since
	}
	if req.Until != nil {
		filter.Until = *req.Until
	}
	entries, err := g.audit.Query(c.Context(), tenant.ID, filter)
	if err != nil {
		return g.fail(c, err)
	}
	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			ID:          e.ID.String(),
			PrincipalID: e.PrincipalID,
			Operation:   e.Operation,
			Success:     e.Success,
			Detail:      e.Detail,
			CreatedAt:   e.CreatedAt,
		}
	}
	return c.OK(out)
}

// --- Media buys ---

// MediaBuyResponse is the operator view of one media buy.
type MediaBuyResponse struct {
	MediaBuyID  string     `json:"media_buy_id"`
	PrincipalID string     `json:"principal_id"`
	OrderName   string     `json:"order_name"`
	State       string     `json:"state"`
	AdapterName string     `json:"adapter_name"`
	ExternalID  string     `json:"external_id,omitempty"`
	TotalBudget float64    `json:"total_budget"`
	FlightStart time.Time  `json:"flight_start"`
	FlightEnd   time.Time  `json:"flight_end"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (g *Gateway) handleMediaBuyList(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	buys, err := g.buys.ListByTenant(c.Context(), tenant.ID)
	if err != nil {
		return g.fail(c, err)
	}
	out := make([]MediaBuyResponse, len(buys))
	for i, b := range buys {
		out[i] = MediaBuyResponse{
			MediaBuyID:  b.MediaBuyID,
			PrincipalID: b.PrincipalID.String(),
			OrderName:   b.OrderName,
			State:       string(b.State),
			AdapterName: b.AdapterName,
			ExternalID:  b.ExternalID,
			TotalBudget: b.TotalBudget,
			FlightStart: b.FlightStart,
			FlightEnd:   b.FlightEnd,
			LastError:   b.LastError,
			CreatedAt:   b.CreatedAt,
			CompletedAt: b.CompletedAt,
		}
	}
	return c.OK(out)
}

// handleMediaBuyCancel cancels a buy on behalf of the operator. Ownership is
// not checked; the operator acts for the tenant, not a principal.
func (g *Gateway) handleMediaBuyCancel(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	mediaBuyID := c.Param("id")
	buy, err := g.canceler.CancelMediaBuy(c.Context(), tenant, nil, mediaBuyID)
	if err != nil {
		return g.fail(c, err)
	}
	g.audit.Record(c.Context(), tenant.ID, c.GetString("operator"), "media_buy.cancel", true, map[string]any{
		"media_buy_id": mediaBuyID,
	})
	return c.OK(MediaBuyResponse{
		MediaBuyID:  buy.MediaBuyID,
		PrincipalID: buy.PrincipalID.String(),
		OrderName:   buy.OrderName,
		State:       string(buy.State),
		AdapterName: buy.AdapterName,
		ExternalID:  buy.ExternalID,
		TotalBudget: buy.TotalBudget,
		FlightStart: buy.FlightStart,
		FlightEnd:   buy.FlightEnd,
		LastError:   buy.LastError,
		CreatedAt:   buy.CreatedAt,
		CompletedAt: buy.CompletedAt,
	})
}

// --- Notification endpoints ---

// EndpointRequest registers a webhook or Slack-style endpoint.
type EndpointRequest struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"` // "webhook" or "slack".
	URL     string   `json:"url"`
	Secret  string   `json:"secret,omitempty"`
	Events  []string `json:"events,omitempty"` // Empty subscribes to everything.
	Enabled *bool    `json:"enabled,omitempty"`
}

// EndpointResponse is one registered endpoint. The secret is never returned.
type EndpointResponse struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	URL     string   `json:"url"`
	Events  []string `json:"events,omitempty"`
	Enabled bool     `json:"enabled"`
}

func (g *Gateway) handleEndpointList(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	endpoints, err := g.endpoints.ListByTenant(c.Context(), tenant.ID)
	if err != nil {
		return g.fail(c, err)
	}
	out := make([]EndpointResponse, len(endpoints))
	for i, e := range endpoints {
		out[i] = toEndpointResponse(e)
	}
	return c.OK(out)
}

func (g *Gateway) handleEndpointCreate(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	var req EndpointRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.URL == "" {
		return g.fail(c, errs.Validation("url", "url is required"))
	}
	if req.Kind != "webhook" && req.Kind != "slack" {
		return g.fail(c, errs.Validation("kind", "kind must be webhook or slack"))
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	endpoint := &notification.Endpoint{
		ID:       domain.NewID(),
		TenantID: tenant.ID,
		Name:     req.Name,
		Kind:     req.Kind,
		URL:      req.URL,
		Secret:   req.Secret,
		Events:   req.Events,
		Enabled:  enabled,
	}
	if err := g.endpoints.Create(c.Context(), endpoint); err != nil {
		return g.fail(c, err)
	}
	g.audit.Record(c.Context(), tenant.ID, c.GetString("operator"), "notification_endpoint.create", true, map[string]any{
		"endpoint_id": endpoint.ID.String(), "kind": endpoint.Kind,
	})
	return c.JSON(http.StatusCreated, toEndpointResponse(endpoint))
}

func (g *Gateway) handleEndpointDelete(c *okapi.Context) error {
	tenant, err := g.resolveTenant(c)
	if err != nil {
		return g.fail(c, err)
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return g.fail(c, errs.Validation("id", "invalid endpoint ID"))
	}
	if err := g.endpoints.Delete(c.Context(), tenant.ID, id); err != nil {
		return g.fail(c, err)
	}
	g.audit.Record(c.Context(), tenant.ID, c.GetString("operator"), "notification_endpoint.delete", true, map[string]any{
		"endpoint_id": id.String(),
	})
	return c.OK(map[string]string{"status": "deleted"})
}

func toEndpointResponse(e *notification.Endpoint) EndpointResponse {
	return EndpointResponse{
		ID:      e.ID.String(),
		Name:    e.Name,
		Kind:    e.Kind,
		URL:     e.URL,
		Events:  e.Events,
		Enabled: e.Enabled,
	}
}
