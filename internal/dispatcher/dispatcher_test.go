package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/admesh/salesagent/internal/adapters"
	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/auth"
	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/orchestrator"
	"github.com/admesh/salesagent/internal/storage/sqlite"
	"github.com/admesh/salesagent/internal/workflow"
)

const testToken = "tok_buyer1"

type testEnv struct {
	srv       *Server
	store     *sqlite.Store
	tenant    *domain.Tenant
	principal *domain.Principal
	ctx       context.Context
}

// newTestEnv wires the full stack on a throwaway SQLite store with a mock
// adapter tenant, one principal, and one fixed-price product.
func newTestEnv(t *testing.T, autoCreate bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	tenant := &domain.Tenant{
		ID:                  uuid.New(),
		Name:                "Acme Media",
		Subdomain:           "acme",
		AdapterName:         "mock",
		AutoApproveFormats:  []string{"display_300x250"},
		AutoCreateMediaBuys: autoCreate,
		Enabled:             true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := st.Tenants().Create(ctx, tenant); err != nil {
		t.Fatalf("seeding tenant: %v", err)
	}
	principal := &domain.Principal{
		ID:          uuid.New(),
		TenantID:    tenant.ID,
		Name:        "Buyer One",
		AccessToken: testToken,
		PlatformMappings: map[string]domain.PlatformMapping{
			"mock": {AdvertiserID: "adv-1"},
		},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.Principals().Create(ctx, principal); err != nil {
		t.Fatalf("seeding principal: %v", err)
	}
	product := &domain.Product{
		ProductID:    "prod_ros",
		TenantID:     tenant.ID,
		Name:         "Run of Site Display",
		Description:  "Standard display across all site sections",
		Formats:      []domain.Format{{FormatID: "display_300x250", Name: "Medium Rectangle", Type: "display", Width: 300, Height: 250}},
		Delivery:     domain.DeliveryNonGuaranteed,
		IsFixedPrice: true,
		CPM:          10,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.Products().Upsert(ctx, product); err != nil {
		t.Fatalf("seeding product: %v", err)
	}

	audit := auditlog.NewWriter(st.Audit(), logger)
	wf := workflow.NewEngine(st.Creatives(), st.Assignments(), st.Tasks(), audit, nil, logger)
	orch := orchestrator.New(st.MediaBuys(), st.Products(), st.Signals(), st.Tenants(),
		adapters.NewRegistry(), wf, audit, orchestrator.Options{Logger: logger})
	orch.SetPrincipalLookup(st.Principals())
	resolver := auth.NewResolver(st.Tenants(), st.Principals(), logger)

	return &testEnv{
		srv:       New(resolver, orch, wf, audit, Options{Version: "test", Logger: logger}),
		store:     st,
		tenant:    tenant,
		principal: principal,
		ctx:       WithIdentityHeaders(ctx, testToken, ""),
	}
}

// call runs one tool through the full wrap pipeline (auth, audit, error mapping).
func (e *testEnv) call(t *testing.T, ctx context.Context, name string, fn toolFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := e.srv.wrap(name, fn)(ctx, req)
	if err != nil {
		t.Fatalf("%s returned a transport error: %v", name, err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is not text: %T", res.Content[0])
	}
	return tc.Text
}

func decode(t *testing.T, res *mcp.CallToolResult, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resultText(t, res)), out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
}

func errorCode(t *testing.T, res *mcp.CallToolResult) (code, field string) {
	t.Helper()
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	var payload struct {
		Error struct {
			Code  string `json:"code"`
			Field string `json:"field"`
		} `json:"error"`
	}
	decode(t, res, &payload)
	return payload.Error.Code, payload.Error.Field
}

func TestMissingTokenIsUnauthenticated(t *testing.T) {
	e := newTestEnv(t, true)
	res := e.call(t, context.Background(), "get_products", e.srv.handleGetProducts, nil)
	if code, _ := errorCode(t, res); code != "unauthenticated" {
		t.Fatalf("expected unauthenticated, got %s", code)
	}
}

func TestTenantHintMismatch(t *testing.T) {
	e := newTestEnv(t, true)
	ctx := WithIdentityHeaders(context.Background(), testToken, "someone-else")
	res := e.call(t, ctx, "get_products", e.srv.handleGetProducts, nil)
	if code, _ := errorCode(t, res); code != "tenant_mismatch" {
		t.Fatalf("expected tenant_mismatch, got %s", code)
	}
}

func TestGetProducts(t *testing.T) {
	e := newTestEnv(t, true)
	res := e.call(t, e.ctx, "get_products", e.srv.handleGetProducts, nil)
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, res))
	}
	var out struct {
		Products []productView `json:"products"`
	}
	decode(t, res, &out)
	if len(out.Products) != 1 || out.Products[0].ProductID != "prod_ros" {
		t.Fatalf("unexpected products: %+v", out.Products)
	}

	res = e.call(t, e.ctx, "get_products", e.srv.handleGetProducts, map[string]any{"brief": "podcast"})
	decode(t, res, &out)
	if len(out.Products) != 0 {
		t.Fatalf("brief filter should exclude everything, got %+v", out.Products)
	}
}

func TestGetAvails(t *testing.T) {
	e := newTestEnv(t, true)
	res := e.call(t, e.ctx, "get_avails", e.srv.handleGetAvails, map[string]any{
		"product_id": "prod_ros",
		"start_date": "2026-10-01",
		"end_date":   "2026-10-15",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, res))
	}
	var avails adapters.Avails
	decode(t, res, &avails)
	if avails.ProductID != "prod_ros" {
		t.Fatalf("unexpected avails: %+v", avails)
	}
}

func TestCreateMediaBuyAutoActivates(t *testing.T) {
	e := newTestEnv(t, true)
	res := e.call(t, e.ctx, "create_media_buy", e.srv.handleCreateMediaBuy, buyArgs())
	if res.IsError {
		t.Fatalf("create failed: %s", resultText(t, res))
	}
	var out createBuyResponse
	decode(t, res, &out)
	if out.MediaBuy.State != string(domain.BuyActive) {
		t.Fatalf("expected active, got %s", out.MediaBuy.State)
	}
	if out.MediaBuy.MediaBuyID == "" {
		t.Fatal("missing media_buy_id")
	}

	// Pause, resume, and status follow the lifecycle.
	buyID := out.MediaBuy.MediaBuyID
	res = e.call(t, e.ctx, "pause_media_buy", e.srv.handlePauseMediaBuy, map[string]any{"media_buy_id": buyID})
	var paused buyView
	decode(t, res, &paused)
	if paused.State != string(domain.BuyPaused) {
		t.Fatalf("expected paused, got %s", paused.State)
	}

	res = e.call(t, e.ctx, "resume_media_buy", e.srv.handleResumeMediaBuy, map[string]any{"media_buy_id": buyID})
	var resumed buyView
	decode(t, res, &resumed)
	if resumed.State != string(domain.BuyActive) {
		t.Fatalf("expected active after resume, got %s", resumed.State)
	}

	res = e.call(t, e.ctx, "check_media_buy_status", e.srv.handleCheckStatus, map[string]any{"media_buy_id": buyID})
	var status buyView
	decode(t, res, &status)
	if status.State != string(domain.BuyActive) {
		t.Fatalf("status reports %s", status.State)
	}

	res = e.call(t, e.ctx, "get_media_buy_report", e.srv.handleGetReport, map[string]any{"media_buy_id": buyID})
	if res.IsError {
		t.Fatalf("report failed: %s", resultText(t, res))
	}
	var report reportView
	decode(t, res, &report)
	if report.MediaBuyID != buyID {
		t.Fatalf("report for wrong buy: %+v", report)
	}
}

func TestCreateMediaBuyManualApproval(t *testing.T) {
	e := newTestEnv(t, false)
	res := e.call(t, e.ctx, "create_media_buy", e.srv.handleCreateMediaBuy, buyArgs())
	if res.IsError {
		t.Fatalf("create failed: %s", resultText(t, res))
	}
	var out createBuyResponse
	decode(t, res, &out)
	if out.MediaBuy.State != string(domain.BuyPendingApproval) {
		t.Fatalf("expected pending_approval, got %s", out.MediaBuy.State)
	}

	tasks, err := e.store.Tasks().List(context.Background(), e.tenant.ID, workflow.TaskFilter{
		Type: domain.TaskManualApproval,
	})
	if err != nil {
		t.Fatalf("listing tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].SubjectID != out.MediaBuy.MediaBuyID {
		t.Fatalf("expected one approval task for the buy, got %+v", tasks)
	}
}

func TestCreateMediaBuyValidation(t *testing.T) {
	e := newTestEnv(t, true)
	args := buyArgs()
	args["packages"] = []any{}
	res := e.call(t, e.ctx, "create_media_buy", e.srv.handleCreateMediaBuy, args)
	code, field := errorCode(t, res)
	if code != "validation_error" || field != "packages" {
		t.Fatalf("expected validation_error on packages, got %s on %q", code, field)
	}
}

func TestUploadCreativeAutoApproved(t *testing.T) {
	e := newTestEnv(t, true)
	res := e.call(t, e.ctx, "upload_creative", e.srv.handleUploadCreative, map[string]any{
		"name":        "Fall Banner",
		"format_id":   "display_300x250",
		"content_uri": "https://cdn.example.com/fall.png",
	})
	if res.IsError {
		t.Fatalf("upload failed: %s", resultText(t, res))
	}
	var out uploadCreativeResponse
	decode(t, res, &out)
	if out.Creative.Status != string(domain.CreativeAutoApproved) {
		t.Fatalf("expected auto_approved, got %s", out.Creative.Status)
	}
	if out.ReviewTaskID != "" {
		t.Fatal("auto-approved creative should not open a review task")
	}

	res = e.call(t, e.ctx, "get_creative_status", e.srv.handleGetCreativeStatus, map[string]any{
		"creative_id": out.Creative.CreativeID,
	})
	var got creativeView
	decode(t, res, &got)
	if got.Status != string(domain.CreativeAutoApproved) {
		t.Fatalf("status lookup returned %s", got.Status)
	}
}

func TestUploadCreativeEntersReview(t *testing.T) {
	e := newTestEnv(t, true)
	res := e.call(t, e.ctx, "upload_creative", e.srv.handleUploadCreative, map[string]any{
		"name":        "Hero Video",
		"format_id":   "video_30s",
		"content_uri": "https://cdn.example.com/hero.mp4",
	})
	var out uploadCreativeResponse
	decode(t, res, &out)
	if out.Creative.Status != string(domain.CreativePendingReview) {
		t.Fatalf("expected pending_review, got %s", out.Creative.Status)
	}
	if out.ReviewTaskID == "" {
		t.Fatal("expected a review task")
	}
}

func TestUploadCreativeDeferredAssignment(t *testing.T) {
	e := newTestEnv(t, true)
	var created createBuyResponse
	decode(t, e.call(t, e.ctx, "create_media_buy", e.srv.handleCreateMediaBuy, buyArgs()), &created)

	res := e.call(t, e.ctx, "upload_creative", e.srv.handleUploadCreative, map[string]any{
		"name":         "Hero Video",
		"format_id":    "video_30s",
		"content_uri":  "https://cdn.example.com/hero.mp4",
		"media_buy_id": created.MediaBuy.MediaBuyID,
		"package_id":   created.MediaBuy.Packages[0].PackageID,
	})
	var out uploadCreativeResponse
	decode(t, res, &out)
	if out.AssignmentID != "" {
		t.Fatal("unapproved creative must not be assigned")
	}
	if out.Detail == "" {
		t.Fatal("expected a deferred-assignment detail")
	}
}

func TestToolCallsAreAudited(t *testing.T) {
	e := newTestEnv(t, true)
	e.call(t, e.ctx, "get_products", e.srv.handleGetProducts, nil)

	audit := auditlog.NewWriter(e.store.Audit(), nil)
	entries, err := audit.Query(context.Background(), e.tenant.ID, auditlog.Filter{Operation: "get_products"})
	if err != nil {
		t.Fatalf("querying audit: %v", err)
	}
	if len(entries) != 1 || !entries[0].Success {
		t.Fatalf("expected one successful audit entry, got %+v", entries)
	}
}

func TestCreateAuditsBareToolName(t *testing.T) {
	e := newTestEnv(t, true)
	res := e.call(t, e.ctx, "create_media_buy", e.srv.handleCreateMediaBuy, buyArgs())
	if res.IsError {
		t.Fatalf("create failed: %s", resultText(t, res))
	}

	// Querying by the operation a buyer invoked yields exactly one entry; the
	// lifecycle transition is audited under its own operation.
	audit := auditlog.NewWriter(e.store.Audit(), nil)
	entries, err := audit.Query(context.Background(), e.tenant.ID, auditlog.Filter{Operation: "create_media_buy"})
	if err != nil {
		t.Fatalf("querying audit: %v", err)
	}
	if len(entries) != 1 || !entries[0].Success {
		t.Fatalf("expected one create_media_buy entry, got %+v", entries)
	}
	transitions, err := audit.Query(context.Background(), e.tenant.ID, auditlog.Filter{Operation: "media_buy.transition"})
	if err != nil {
		t.Fatalf("querying audit: %v", err)
	}
	if len(transitions) == 0 {
		t.Fatal("expected transition entries alongside the tool entry")
	}
}

func TestStreamableHTTPConfigured(t *testing.T) {
	e := newTestEnv(t, true)
	var h *server.StreamableHTTPServer = e.srv.StreamableHTTP("/mcp")
	if h == nil {
		t.Fatal("expected an HTTP transport")
	}
}

func buyArgs() map[string]any {
	return map[string]any{
		"order_name":        "Q4 Awareness",
		"total_budget":      5000.0,
		"flight_start_date": "2026-10-01",
		"flight_end_date":   "2026-10-31",
		"packages": []any{
			map[string]any{"product_id": "prod_ros", "budget": 5000.0},
		},
		"targeting_overlay": map[string]any{
			"geo_country_any_of": []any{"US", "CA"},
		},
	}
}
