// Package dispatcher exposes the MCP tool surface to AI buying agents. Every
// tool call authenticates the x-adcp-auth token through the identity resolver,
// lands one audit entry, and returns either a JSON payload or a structured
// tool error carrying a stable error code.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/auth"
	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/observability"
	"github.com/admesh/salesagent/internal/orchestrator"
	"github.com/admesh/salesagent/internal/workflow"
)

// ServerName identifies this MCP server to connecting agents.
const ServerName = "adcp-sales-agent"

// Server is the MCP tool dispatcher. It owns no business logic: tools resolve
// identity, decode arguments, and delegate to the orchestrator or workflow
// engine.
type Server struct {
	resolver *auth.Resolver
	orch     *orchestrator.Orchestrator
	wf       *workflow.Engine
	audit    *auditlog.Writer
	metrics  *observability.MetricsCollector
	logger   *slog.Logger

	mcp *server.MCPServer
}

// Options configure the dispatcher. Metrics may be nil.
type Options struct {
	Version string
	Metrics *observability.MetricsCollector
	Logger  *slog.Logger
}

// New builds the dispatcher and registers all tools on a fresh MCP server.
func New(resolver *auth.Resolver, orch *orchestrator.Orchestrator, wf *workflow.Engine, audit *auditlog.Writer, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		resolver: resolver,
		orch:     orch,
		wf:       wf,
		audit:    audit,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	s.mcp = server.NewMCPServer(
		ServerName,
		opts.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server for transport wiring.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// StreamableHTTP returns an HTTP transport serving the MCP endpoint at path.
// The context func copies the identity headers into every request context.
func (s *Server) StreamableHTTP(path string) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(path),
		server.WithHTTPContextFunc(HTTPContextFunc),
	)
}

// identity is the resolved caller of one tool call.
type identity struct {
	tenant    *domain.Tenant
	principal *domain.Principal
}

// toolFunc is a tool body running with a resolved identity. The returned
// value is marshaled to JSON as the tool result.
type toolFunc func(ctx context.Context, id identity, req mcp.CallToolRequest) (any, error)

// wrap turns a toolFunc into an MCP handler: resolve identity, run, record
// metrics, audit the attempt, and map errors to structured tool results.
func (s *Server) wrap(name string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		if s.metrics != nil {
			s.metrics.ActiveRequests.Inc()
			defer s.metrics.ActiveRequests.Dec()
		}

		tenant, principal, err := s.resolver.Resolve(ctx, tokenFromContext(ctx), tenantHintFromContext(ctx))
		if err != nil {
			s.observe(name, start, err)
			return s.errorResult(ctx, name, err), nil
		}

		out, err := fn(ctx, identity{tenant: tenant, principal: principal}, req)
		s.observe(name, start, err)
		// The audit operation is the bare tool name: one entry per call,
		// queryable by the operation a buyer invoked.
		s.audit.Record(ctx, tenant.ID, principal.ID.String(), name, err == nil, auditDetail(req, err))
		if err != nil {
			s.logger.WarnContext(ctx, "tool call failed",
				"tool", name, "tenant_id", tenant.ID, "error", err)
			return toolError(err), nil
		}

		data, merr := json.Marshal(out)
		if merr != nil {
			return toolError(errs.Wrap(errs.KindInternal, merr, "encoding response")), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// errorResult audits and converts a pre-identity failure. Unauthenticated
// attempts are recorded without a tenant so probing shows up in the trail.
func (s *Server) errorResult(ctx context.Context, name string, err error) *mcp.CallToolResult {
	s.audit.Record(ctx, uuid.Nil, "", name, false, map[string]any{
		"error": err.Error(),
	})
	return toolError(err)
}

func (s *Server) observe(name string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	s.metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// toolError renders a classified error as a structured tool error payload.
// The code is the stable errs kind; callers branch on it, not the message.
func toolError(err error) *mcp.CallToolResult {
	payload := map[string]any{
		"code":    string(errs.KindOf(err)),
		"message": err.Error(),
	}
	var e *errs.Error
	if errors.As(err, &e) && e.Field != "" {
		payload["field"] = e.Field
	}
	data, merr := json.Marshal(map[string]any{"error": payload})
	if merr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func auditDetail(req mcp.CallToolRequest, err error) map[string]any {
	detail := map[string]any{}
	args := req.GetArguments()
	if v, ok := args["media_buy_id"].(string); ok && v != "" {
		detail["media_buy_id"] = v
	}
	if v, ok := args["creative_id"].(string); ok && v != "" {
		detail["creative_id"] = v
	}
	if v, ok := args["product_id"].(string); ok && v != "" {
		detail["product_id"] = v
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	return detail
}

const instructions = `This server sells advertising inventory over the Ad Context Protocol.
Discover products with get_products, forecast with get_avails, then create and
manage media buys. Creatives must be uploaded and approved before they serve.
Every request requires the x-adcp-auth header issued by the publisher.`
