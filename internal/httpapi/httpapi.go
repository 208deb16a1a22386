// Package httpapi implements the admin/ops HTTP surface: the human task queue
// (claim, complete, verify), audit queries, notification endpoint management,
// and the health/readiness/metrics endpoints. This is the publisher-side
// boundary; buying agents never touch it.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Tenant scoping via the {tenant} path segment (subdomain)
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/okapi"

	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/auth"
	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/notification"
	"github.com/admesh/salesagent/internal/observability"
	"github.com/admesh/salesagent/internal/orchestrator"
	"github.com/admesh/salesagent/internal/workflow"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the admin gateway.
type Config struct {
	ListenAddr string // e.g., ":8081"
	EnableDocs bool
	APIKeys    map[string]string // API key -> operator name. Keys from env.

	// Observability
	MetricsRegistry *prometheus.Registry         // Custom Prometheus registry for /metrics.
	MetricsPath     string                       // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker // Health checker for /readyz.
}

// Gateway is the admin HTTP API.
type Gateway struct {
	config    Config
	tenants   auth.TenantStore
	wf        *workflow.Engine
	audit     *auditlog.Writer
	endpoints notification.EndpointStore // nil = endpoint management disabled.
	buys      orchestrator.MediaBuyStore
	canceler  BuyCanceler // nil = operator cancel disabled.
	logger    *slog.Logger
	server    *http.Server
	okapi     *okapi.Okapi
	group     *okapi.Group
}

// NewGateway creates the admin gateway.
func NewGateway(cfg Config, tenants auth.TenantStore, wf *workflow.Engine, audit *auditlog.Writer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:  cfg,
		tenants: tenants,
		wf:      wf,
		audit:   audit,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithNotificationEndpoints attaches webhook endpoint management.
func (g *Gateway) WithNotificationEndpoints(store notification.EndpointStore) *Gateway {
	g.endpoints = store
	return g
}

// WithMediaBuys attaches the read-only media buy listing.
func (g *Gateway) WithMediaBuys(buys orchestrator.MediaBuyStore) *Gateway {
	g.buys = buys
	return g
}

// BuyCanceler cancels a media buy on behalf of an operator. A nil principal
// marks the operator path.
type BuyCanceler interface {
	CancelMediaBuy(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, mediaBuyID string) (*domain.MediaBuy, error)
}

// WithBuyCancel attaches the operator cancel endpoint.
func (g *Gateway) WithBuyCancel(c BuyCanceler) *Gateway {
	g.canceler = c
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Human task queue.
	g.group.Get("/tenants/{tenant}/tasks", g.handleTaskList,
		okapi.DocSummary("List pending and in-flight tasks for a tenant"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
		okapi.DocResponse([]TaskResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/tenants/{tenant}/tasks/query", g.handleTaskQuery,
		okapi.DocSummary("List tasks matching a filter"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
		okapi.DocRequestBody(TaskQueryRequest{}),
		okapi.DocResponse([]TaskResponse{}),
	)
	g.group.Post("/tenants/{tenant}/tasks/{id}/claim", g.handleTaskClaim,
		okapi.DocSummary("Claim a pending task"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocRequestBody(TaskClaimRequest{}),
		okapi.DocResponse(TaskResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/tenants/{tenant}/tasks/{id}/complete", g.handleTaskComplete,
		okapi.DocSummary("Record the human decision on a task"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocRequestBody(TaskCompleteRequest{}),
		okapi.DocResponse(TaskResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/tenants/{tenant}/tasks/{id}/verify", g.handleTaskVerify,
		okapi.DocSummary("Verify a completed task, closing it"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(TaskResponse{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)

	// Audit trail.
	g.group.Post("/tenants/{tenant}/audit/query", g.handleAuditQuery,
		okapi.DocSummary("Query the tenant's audit trail"),
		okapi.DocTags("Audit"),
		okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
		okapi.DocRequestBody(AuditQueryRequest{}),
		okapi.DocResponse([]AuditEntryResponse{}),
	)

	// Media buys (operator view).
	if g.buys != nil {
		g.group.Get("/tenants/{tenant}/media-buys", g.handleMediaBuyList,
			okapi.DocSummary("List the tenant's media buys"),
			okapi.DocTags("MediaBuys"),
			okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
			okapi.DocResponse([]MediaBuyResponse{}),
		)
	}
	if g.canceler != nil {
		g.group.Post("/tenants/{tenant}/media-buys/{id}/cancel", g.handleMediaBuyCancel,
			okapi.DocSummary("Cancel a media buy (active buys must be paused first)"),
			okapi.DocTags("MediaBuys"),
			okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
			okapi.DocPathParam("id", "string", "Media buy ID"),
			okapi.DocResponse(MediaBuyResponse{}),
			okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		)
	}

	// Notification endpoints.
	if g.endpoints != nil {
		g.group.Get("/tenants/{tenant}/notification-endpoints", g.handleEndpointList,
			okapi.DocSummary("List webhook endpoints"),
			okapi.DocTags("Notifications"),
			okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
			okapi.DocResponse([]EndpointResponse{}),
		)
		g.group.Post("/tenants/{tenant}/notification-endpoints", g.handleEndpointCreate,
			okapi.DocSummary("Register a webhook endpoint"),
			okapi.DocTags("Notifications"),
			okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
			okapi.DocRequestBody(EndpointRequest{}),
			okapi.DocResponse(http.StatusCreated, EndpointResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Delete("/tenants/{tenant}/notification-endpoints/{id}", g.handleEndpointDelete,
			okapi.DocSummary("Remove a webhook endpoint"),
			okapi.DocTags("Notifications"),
			okapi.DocPathParam("tenant", "string", "Tenant subdomain"),
			okapi.DocPathParam("id", "string", "Endpoint ID (UUID)"),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.okapi.WithOpenAPIDocs(okapi.OpenAPI{
			Title:   "AdCP Sales Agent Admin",
			Version: "v1",
		})
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("admin api starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("admin api stopping")
	return g.okapi.Shutdown(g.server)
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness runs all registered probes and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	report := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if !report.Ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// --- Authentication ---

// authenticate validates the API key and stores the operator name on the
// context for audit attribution.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		operator := ""
		for key, name := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				operator = name
			}
		}
		if operator == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("operator", operator)
		return next(c)
	}
}

// --- Helpers ---

// resolveTenant maps the {tenant} path segment (subdomain) to the tenant.
func (g *Gateway) resolveTenant(c *okapi.Context) (*domain.Tenant, error) {
	return g.tenants.BySubdomain(c.Context(), c.Param("tenant"))
}

// StatusForKind maps the error taxonomy to HTTP status codes.
func StatusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindForbidden, errs.KindTenantMismatch:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidTransition, errs.KindConflict, errs.KindCreativeNotApproved:
		return http.StatusConflict
	case errs.KindAdapterUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail renders a classified error. Internal details never leave the server.
func (g *Gateway) fail(c *okapi.Context, err error) error {
	code := StatusForKind(errs.KindOf(err))
	if code == http.StatusInternalServerError {
		g.logger.Error("admin request failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("internal error")
	}
	return c.JSON(code, ErrorBody{Error: err.Error()})
}
