package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/admesh/salesagent/internal/adapters"
	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/workflow"
)

type memBuys struct {
	mu   sync.Mutex
	byID map[string]*domain.MediaBuy
}

func newMemBuys() *memBuys { return &memBuys{byID: map[string]*domain.MediaBuy{}} }

func (m *memBuys) Create(_ context.Context, b *domain.MediaBuy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.byID[b.MediaBuyID] = &cp
	return nil
}

func (m *memBuys) Update(_ context.Context, b *domain.MediaBuy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.byID[b.MediaBuyID] = &cp
	return nil
}

func (m *memBuys) ByID(_ context.Context, tenantID uuid.UUID, mediaBuyID string) (*domain.MediaBuy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[mediaBuyID]
	if !ok || b.TenantID != tenantID {
		return nil, errs.New(errs.KindNotFound, "media buy %s not found", mediaBuyID)
	}
	cp := *b
	return &cp, nil
}

func (m *memBuys) ListByTenant(_ context.Context, tenantID uuid.UUID, states ...domain.MediaBuyState) ([]*domain.MediaBuy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.MediaBuy
	for _, b := range m.byID {
		if b.TenantID != tenantID {
			continue
		}
		if len(states) > 0 && !containsState(states, b.State) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func containsState(states []domain.MediaBuyState, s domain.MediaBuyState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

type memProducts struct {
	byKey map[string]*domain.Product
}

func (m *memProducts) Upsert(_ context.Context, p *domain.Product) error {
	m.byKey[p.ProductID] = p
	return nil
}

func (m *memProducts) ByID(_ context.Context, tenantID uuid.UUID, productID string) (*domain.Product, error) {
	p, ok := m.byKey[productID]
	if !ok || p.TenantID != tenantID {
		return nil, errs.New(errs.KindNotFound, "product %s not found", productID)
	}
	return p, nil
}

func (m *memProducts) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*domain.Product, error) {
	var out []*domain.Product
	for _, p := range m.byKey {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memSignals struct{}

func (memSignals) Upsert(_ context.Context, _ uuid.UUID, _ *domain.Signal) error { return nil }
func (memSignals) List(_ context.Context, _ uuid.UUID, _, _ string) ([]*domain.Signal, error) {
	return nil, nil
}

type memTenantStore struct {
	byID map[uuid.UUID]*domain.Tenant
}

func (m *memTenantStore) Create(_ context.Context, t *domain.Tenant) error { m.byID[t.ID] = t; return nil }
func (m *memTenantStore) Update(_ context.Context, t *domain.Tenant) error { m.byID[t.ID] = t; return nil }

func (m *memTenantStore) ByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, ok := m.byID[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "tenant not found")
	}
	return t, nil
}

func (m *memTenantStore) BySubdomain(_ context.Context, _ string) (*domain.Tenant, error) {
	return nil, errs.New(errs.KindNotFound, "tenant not found")
}

func (m *memTenantStore) List(_ context.Context, _ bool) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, t := range m.byID {
		out = append(out, t)
	}
	return out, nil
}

type memPrincipals struct {
	byID map[uuid.UUID]*domain.Principal
}

func (m *memPrincipals) ByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Principal, error) {
	p, ok := m.byID[id]
	if !ok || p.TenantID != tenantID {
		return nil, errs.New(errs.KindNotFound, "principal not found")
	}
	return p, nil
}

type countingAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (c *countingAudit) Append(_ context.Context, e *domain.AuditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *countingAudit) Query(_ context.Context, _ uuid.UUID, _ auditlog.Filter) ([]*domain.AuditEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.AuditEntry(nil), c.entries...), nil
}

func (c *countingAudit) count(operation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Operation == operation {
			n++
		}
	}
	return n
}

// trackingAdapter records the update calls that reach the platform.
type trackingAdapter struct {
	adapters.Adapter
	mu          sync.Mutex
	updates     []adapters.UpdateRequest
	failUpdates bool
}

func (a *trackingAdapter) UpdateMediaBuy(ctx context.Context, req *adapters.UpdateRequest) error {
	a.mu.Lock()
	a.updates = append(a.updates, *req)
	fail := a.failUpdates
	a.mu.Unlock()
	if fail {
		return errs.New(errs.KindAdapterUnavailable, "platform 503")
	}
	return a.Adapter.UpdateMediaBuy(ctx, req)
}

func (a *trackingAdapter) updateCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.updates)
}

// flakyAdapter fails the first n create calls with a transient error.
type flakyAdapter struct {
	adapters.Adapter
	mu        sync.Mutex
	failuresN int
}

func (f *flakyAdapter) CreateMediaBuy(ctx context.Context, req *adapters.CreateRequest) (*adapters.CreateResult, error) {
	f.mu.Lock()
	if f.failuresN > 0 {
		f.failuresN--
		f.mu.Unlock()
		return nil, errs.New(errs.KindAdapterUnavailable, "platform 503")
	}
	f.mu.Unlock()
	return f.Adapter.CreateMediaBuy(ctx, req)
}

type fixture struct {
	orch      *Orchestrator
	wf        *workflow.Engine
	buys      *memBuys
	audit     *countingAudit
	tenant    *domain.Tenant
	principal *domain.Principal
	wfTasks   *wfMemTasks
}

type wfMemTasks struct {
	byID map[uuid.UUID]*domain.HumanTask
}

func (m *wfMemTasks) Create(_ context.Context, t *domain.HumanTask) error { m.byID[t.TaskID] = t; return nil }
func (m *wfMemTasks) Update(_ context.Context, t *domain.HumanTask) error { m.byID[t.TaskID] = t; return nil }

func (m *wfMemTasks) ByID(_ context.Context, tenantID, taskID uuid.UUID) (*domain.HumanTask, error) {
	t, ok := m.byID[taskID]
	if !ok || t.TenantID != tenantID {
		return nil, errs.New(errs.KindNotFound, "task not found")
	}
	return t, nil
}

func (m *wfMemTasks) List(_ context.Context, tenantID uuid.UUID, f workflow.TaskFilter) ([]*domain.HumanTask, error) {
	var out []*domain.HumanTask
	for _, t := range m.byID {
		if t.TenantID != tenantID {
			continue
		}
		if f.SubjectID != "" && t.SubjectID != f.SubjectID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type wfMemCreatives struct{}

func (wfMemCreatives) Create(_ context.Context, _ *domain.Creative) error { return nil }
func (wfMemCreatives) Update(_ context.Context, _ *domain.Creative) error { return nil }
func (wfMemCreatives) ByID(_ context.Context, _ uuid.UUID, id string) (*domain.Creative, error) {
	return nil, errs.New(errs.KindNotFound, "creative %s not found", id)
}
func (wfMemCreatives) ListByPrincipal(_ context.Context, _, _ uuid.UUID) ([]*domain.Creative, error) {
	return nil, nil
}

type wfMemAssignments struct{}

func (wfMemAssignments) Create(_ context.Context, _ *domain.CreativeAssignment) error { return nil }
func (wfMemAssignments) ListByMediaBuy(_ context.Context, _ uuid.UUID, _ string) ([]*domain.CreativeAssignment, error) {
	return nil, nil
}

func newFixture(t *testing.T, autoCreate bool) *fixture {
	t.Helper()
	tenant := &domain.Tenant{
		ID:                  domain.NewID(),
		Subdomain:           "acme",
		AdapterName:         "mock",
		AdapterConfig:       domain.AdapterConfig{Mock: &domain.MockAdapterConfig{FillRate: 1.0}},
		AutoCreateMediaBuys: autoCreate,
		Enabled:             true,
	}
	principal := &domain.Principal{
		ID:       domain.NewID(),
		TenantID: tenant.ID,
		PlatformMappings: map[string]domain.PlatformMapping{
			"mock": {AdvertiserID: "adv_mock_1"},
		},
		Enabled: true,
	}
	products := &memProducts{byKey: map[string]*domain.Product{
		"prod_ros": {
			ProductID:    "prod_ros",
			TenantID:     tenant.ID,
			Name:         "Run of site",
			Delivery:     domain.DeliveryGuaranteed,
			IsFixedPrice: true,
			CPM:          12,
		},
	}}
	buys := newMemBuys()
	audit := &countingAudit{}
	writer := auditlog.NewWriter(audit, nil)

	tasks := &wfMemTasks{byID: map[uuid.UUID]*domain.HumanTask{}}
	wf := workflow.NewEngine(wfMemCreatives{}, wfMemAssignments{}, tasks, writer, nil, nil)

	tenants := &memTenantStore{byID: map[uuid.UUID]*domain.Tenant{tenant.ID: tenant}}
	orch := New(buys, products, memSignals{}, tenants, adapters.NewRegistry(), wf, writer, Options{
		Retry:    RetryPolicy{Attempts: 3, Base: time.Millisecond},
		LockWait: 200 * time.Millisecond,
	})
	orch.SetPrincipalLookup(&memPrincipals{byID: map[uuid.UUID]*domain.Principal{principal.ID: principal}})
	return &fixture{orch: orch, wf: wf, buys: buys, audit: audit, tenant: tenant, principal: principal, wfTasks: tasks}
}

// trackMock replaces the fixture's mock adapter with a tracking wrapper. Must
// run before the first orchestrator call; adapters are cached per tenant.
func trackMock(f *fixture) *trackingAdapter {
	tracked := &trackingAdapter{}
	f.orch.registry.Register("mock", func(tenant *domain.Tenant, opts adapters.Options) (adapters.Adapter, error) {
		reg := adapters.NewRegistry()
		inner, err := reg.ForTenant(tenant, opts)
		if err != nil {
			return nil, err
		}
		tracked.Adapter = inner
		return tracked, nil
	})
	return tracked
}

func createReq() *CreateBuyRequest {
	start := time.Now().UTC().Add(24 * time.Hour)
	return &CreateBuyRequest{
		OrderName:   "Q2 Awareness",
		TotalBudget: 6000,
		FlightStart: start,
		FlightEnd:   start.AddDate(0, 0, 30),
		Packages: []domain.MediaPackage{
			{ProductID: "prod_ros", Budget: 6000},
		},
	}
}

func TestCreateMediaBuyAutoCreate(t *testing.T) {
	f := newFixture(t, true)
	buy, _, err := f.orch.CreateMediaBuy(context.Background(), f.tenant, f.principal, createReq())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if buy.State != domain.BuyActive {
		t.Fatalf("expected active, got %s", buy.State)
	}
	if buy.ExternalID == "" {
		t.Fatal("expected external ID after adapter create")
	}
	if buy.Packages[0].CPM != 12 {
		t.Fatalf("expected CPM defaulted from product, got %v", buy.Packages[0].CPM)
	}
	if buy.Packages[0].Impressions != 500_000 {
		t.Fatalf("expected impressions derived from budget, got %d", buy.Packages[0].Impressions)
	}
	// draft -> active is one transition, one audit entry.
	if got := f.audit.count("media_buy.transition"); got != 1 {
		t.Fatalf("expected 1 transition entry, got %d", got)
	}
}

func TestCreateMediaBuyManualApproval(t *testing.T) {
	f := newFixture(t, false)
	buy, _, err := f.orch.CreateMediaBuy(context.Background(), f.tenant, f.principal, createReq())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if buy.State != domain.BuyPendingApproval {
		t.Fatalf("expected pending_approval, got %s", buy.State)
	}

	tasks, _ := f.wf.ListTasks(context.Background(), f.tenant.ID, workflow.TaskFilter{SubjectID: buy.MediaBuyID})
	if len(tasks) != 1 || tasks[0].Type != domain.TaskManualApproval {
		t.Fatalf("expected one manual_approval task, got %+v", tasks)
	}

	// Completing the task resumes the buy to active.
	if _, err := f.wf.CompleteTask(context.Background(), f.tenant.ID, tasks[0].TaskID, workflow.ResolutionApproved, "ok"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got, _ := f.buys.ByID(context.Background(), f.tenant.ID, buy.MediaBuyID)
	if got.State != domain.BuyActive {
		t.Fatalf("expected active after approval, got %s", got.State)
	}
	if got.ExternalID == "" {
		t.Fatal("expected external ID after approval create")
	}
}

func TestCreateMediaBuyRejection(t *testing.T) {
	f := newFixture(t, false)
	buy, _, _ := f.orch.CreateMediaBuy(context.Background(), f.tenant, f.principal, createReq())

	tasks, _ := f.wf.ListTasks(context.Background(), f.tenant.ID, workflow.TaskFilter{SubjectID: buy.MediaBuyID})
	if _, err := f.wf.CompleteTask(context.Background(), f.tenant.ID, tasks[0].TaskID, workflow.ResolutionRejected, "over budget"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got, _ := f.buys.ByID(context.Background(), f.tenant.ID, buy.MediaBuyID)
	if got.State != domain.BuyCancelled {
		t.Fatalf("expected cancelled after rejection, got %s", got.State)
	}
}

func TestCreateMediaBuyValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	bad := createReq()
	bad.TotalBudget = 0
	if _, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, bad); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation for zero budget, got %v", err)
	}

	bad = createReq()
	bad.FlightEnd = bad.FlightStart.Add(-time.Hour)
	if _, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, bad); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation for inverted flight, got %v", err)
	}

	bad = createReq()
	bad.Packages[0].ProductID = "prod_missing"
	if _, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, bad); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation for unknown product, got %v", err)
	}

	bad = createReq()
	bad.Targeting = &domain.TargetingOverlay{KeyValuePairs: map[string]string{"aee": "x"}}
	if _, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, bad); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation for managed-only targeting, got %v", err)
	}

	noMapping := &domain.Principal{ID: domain.NewID(), TenantID: f.tenant.ID, Enabled: true}
	if _, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, noMapping, createReq()); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation for missing platform mapping, got %v", err)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	paused, err := f.orch.PauseMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID)
	if err != nil {
		t.Fatalf("PauseMediaBuy: %v", err)
	}
	if paused.State != domain.BuyPaused {
		t.Fatalf("expected paused, got %s", paused.State)
	}

	resumed, err := f.orch.ResumeMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID)
	if err != nil {
		t.Fatalf("ResumeMediaBuy: %v", err)
	}
	if resumed.State != domain.BuyActive {
		t.Fatalf("expected active, got %s", resumed.State)
	}

	// Pause again is legal; resume-from-active is not.
	if _, err := f.orch.ResumeMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID); !errs.Is(err, errs.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition resuming active buy, got %v", err)
	}
}

func TestTerminalStateRejectsOperations(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	if _, err := f.orch.PauseMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID); err != nil {
		t.Fatalf("PauseMediaBuy: %v", err)
	}
	if _, err := f.orch.CancelMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID); err != nil {
		t.Fatalf("CancelMediaBuy: %v", err)
	}

	budget := 9000.0
	if _, err := f.orch.UpdateMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID, &UpdateBuyRequest{TotalBudget: &budget}); !errs.Is(err, errs.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition updating cancelled buy, got %v", err)
	}
	if _, err := f.orch.ResumeMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID); !errs.Is(err, errs.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition resuming cancelled buy, got %v", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	stranger := &domain.Principal{ID: domain.NewID(), TenantID: f.tenant.ID, Enabled: true}
	if _, err := f.orch.GetMediaBuy(ctx, f.tenant.ID, stranger, buy.MediaBuyID); !errs.Is(err, errs.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAdapterRetryThenFailure(t *testing.T) {
	f := newFixture(t, true)
	// Wrap the mock so the first 5 creates fail; the 3-attempt budget is
	// exhausted and the buy lands in failed.
	f.orch.registry.Register("mock", func(tenant *domain.Tenant, opts adapters.Options) (adapters.Adapter, error) {
		reg := adapters.NewRegistry()
		inner, err := reg.ForTenant(tenant, opts)
		if err != nil {
			return nil, err
		}
		return &flakyAdapter{Adapter: inner, failuresN: 5}, nil
	})

	_, _, err := f.orch.CreateMediaBuy(context.Background(), f.tenant, f.principal, createReq())
	if !errs.Is(err, errs.KindAdapterUnavailable) {
		t.Fatalf("expected adapter_unavailable after retries, got %v", err)
	}

	buys, _ := f.buys.ListByTenant(context.Background(), f.tenant.ID)
	if len(buys) != 1 || buys[0].State != domain.BuyFailed {
		t.Fatalf("expected buy in failed state, got %+v", buys)
	}
	if buys[0].LastError == "" {
		t.Fatal("expected last_error recorded")
	}
}

func TestAdapterRetrySucceeds(t *testing.T) {
	f := newFixture(t, true)
	f.orch.registry.Register("mock", func(tenant *domain.Tenant, opts adapters.Options) (adapters.Adapter, error) {
		reg := adapters.NewRegistry()
		inner, err := reg.ForTenant(tenant, opts)
		if err != nil {
			return nil, err
		}
		return &flakyAdapter{Adapter: inner, failuresN: 2}, nil
	})

	buy, _, err := f.orch.CreateMediaBuy(context.Background(), f.tenant, f.principal, createReq())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if buy.State != domain.BuyActive {
		t.Fatalf("expected active, got %s", buy.State)
	}
}

func TestUpdateMediaBuyReachesAdapter(t *testing.T) {
	f := newFixture(t, true)
	tracked := trackMock(f)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	budget := 9000.0
	updated, err := f.orch.UpdateMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID, &UpdateBuyRequest{TotalBudget: &budget})
	if err != nil {
		t.Fatalf("UpdateMediaBuy: %v", err)
	}
	if updated.TotalBudget != 9000 {
		t.Fatalf("expected budget 9000, got %v", updated.TotalBudget)
	}
	if got := tracked.updateCount(); got != 1 {
		t.Fatalf("expected 1 adapter update call, got %d", got)
	}
	if upd := tracked.updates[0]; upd.ExternalID != buy.ExternalID || upd.TotalBudget != 9000 {
		t.Fatalf("adapter saw wrong update: %+v", upd)
	}
}

func TestUpdateMediaBuyAdapterFailureLeavesBuyUntouched(t *testing.T) {
	f := newFixture(t, true)
	tracked := trackMock(f)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	tracked.failUpdates = true
	budget := 9000.0
	if _, err := f.orch.UpdateMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID, &UpdateBuyRequest{TotalBudget: &budget}); !errs.Is(err, errs.KindAdapterUnavailable) {
		t.Fatalf("expected adapter_unavailable, got %v", err)
	}
	got, _ := f.buys.ByID(ctx, f.tenant.ID, buy.MediaBuyID)
	if got.TotalBudget != 6000 {
		t.Fatalf("stored budget changed after failed push, got %v", got.TotalBudget)
	}
}

func TestConcurrentUpdatesSerialized(t *testing.T) {
	f := newFixture(t, true)
	tracked := trackMock(f)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	var wg sync.WaitGroup
	budgets := []float64{7000, 8000}
	errsCh := make(chan error, len(budgets))
	for _, b := range budgets {
		wg.Add(1)
		go func(budget float64) {
			defer wg.Done()
			_, err := f.orch.UpdateMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID, &UpdateBuyRequest{TotalBudget: &budget})
			errsCh <- err
		}(b)
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		if err != nil {
			t.Fatalf("concurrent update failed: %v", err)
		}
	}
	if got := tracked.updateCount(); got != 2 {
		t.Fatalf("expected 2 adapter update calls, got %d", got)
	}
	final, _ := f.buys.ByID(ctx, f.tenant.ID, buy.MediaBuyID)
	if final.TotalBudget != 7000 && final.TotalBudget != 8000 {
		t.Fatalf("final budget should be one of the writes, got %v", final.TotalBudget)
	}
}

func TestLockTimeoutSurfacesConflict(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	unlock, err := f.orch.locks.acquire(ctx, buy.MediaBuyID, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer unlock()

	if _, err := f.orch.PauseMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID); !errs.Is(err, errs.KindConflict) {
		t.Fatalf("expected conflict on lock timeout, got %v", err)
	}
}

func TestReconcilerCompletesEndedFlights(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	req := createReq()
	req.FlightStart = time.Now().UTC().Add(-48 * time.Hour)
	req.FlightEnd = time.Now().UTC().Add(-24 * time.Hour)
	buy, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, req)
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}

	r := NewReconciler(f.orch, time.Minute, nil)
	if err := r.ReconcileTenant(ctx, f.tenant); err != nil {
		t.Fatalf("ReconcileTenant: %v", err)
	}
	got, _ := f.buys.ByID(ctx, f.tenant.ID, buy.MediaBuyID)
	if got.State != domain.BuyCompleted {
		t.Fatalf("expected completed after reconciliation, got %s", got.State)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}
}

func TestPolicyThresholdParksBuyForReview(t *testing.T) {
	f := newFixture(t, true)
	f.tenant.PolicyBudgetThreshold = 5000
	ctx := context.Background()

	buy, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if buy.State != domain.BuyPendingApproval {
		t.Fatalf("expected pending_approval despite auto-create, got %s", buy.State)
	}
	tasks, _ := f.wf.ListTasks(ctx, f.tenant.ID, workflow.TaskFilter{SubjectID: buy.MediaBuyID})
	if len(tasks) != 1 || tasks[0].Type != domain.TaskPolicyReview {
		t.Fatalf("expected one policy_review task, got %+v", tasks)
	}

	// Approval runs the deferred adapter create and activates.
	if _, err := f.wf.CompleteTask(ctx, f.tenant.ID, tasks[0].TaskID, workflow.ResolutionApproved, "reviewed"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got, _ := f.buys.ByID(ctx, f.tenant.ID, buy.MediaBuyID)
	if got.State != domain.BuyActive {
		t.Fatalf("expected active after policy approval, got %s", got.State)
	}
}

func TestPolicyThresholdBelowIsUntouched(t *testing.T) {
	f := newFixture(t, true)
	f.tenant.PolicyBudgetThreshold = 10000
	ctx := context.Background()

	buy, _, err := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())
	if err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}
	if buy.State != domain.BuyActive {
		t.Fatalf("expected active below threshold, got %s", buy.State)
	}
	tasks, _ := f.wf.ListTasks(ctx, f.tenant.ID, workflow.TaskFilter{SubjectID: buy.MediaBuyID})
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks below threshold, got %+v", tasks)
	}
}

func TestUpdateCrossingPolicyThresholdOpensReview(t *testing.T) {
	f := newFixture(t, true)
	f.tenant.PolicyBudgetThreshold = 10000
	ctx := context.Background()

	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	budget := 12000.0
	if _, err := f.orch.UpdateMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID, &UpdateBuyRequest{TotalBudget: &budget}); err != nil {
		t.Fatalf("UpdateMediaBuy: %v", err)
	}
	tasks, _ := f.wf.ListTasks(ctx, f.tenant.ID, workflow.TaskFilter{SubjectID: buy.MediaBuyID})
	if len(tasks) != 1 || tasks[0].Type != domain.TaskPolicyReview {
		t.Fatalf("expected one policy_review task after crossing threshold, got %+v", tasks)
	}

	// Raising the budget again while already over the line opens no second review.
	budget = 15000
	if _, err := f.orch.UpdateMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID, &UpdateBuyRequest{TotalBudget: &budget}); err != nil {
		t.Fatalf("UpdateMediaBuy: %v", err)
	}
	tasks, _ = f.wf.ListTasks(ctx, f.tenant.ID, workflow.TaskFilter{SubjectID: buy.MediaBuyID})
	if len(tasks) != 1 {
		t.Fatalf("expected no duplicate review task, got %+v", tasks)
	}

	// Rejecting the review pauses remote delivery and cancels the buy.
	if _, err := f.wf.CompleteTask(ctx, f.tenant.ID, tasks[0].TaskID, workflow.ResolutionRejected, "over policy"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got, _ := f.buys.ByID(ctx, f.tenant.ID, buy.MediaBuyID)
	if got.State != domain.BuyCancelled {
		t.Fatalf("expected cancelled after rejected review, got %s", got.State)
	}
}

func TestCancelMediaBuyByOperator(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, createReq())

	if _, err := f.orch.PauseMediaBuy(ctx, f.tenant, f.principal, buy.MediaBuyID); err != nil {
		t.Fatalf("PauseMediaBuy: %v", err)
	}
	// Nil principal is the operator path: ownership is not checked.
	got, err := f.orch.CancelMediaBuy(ctx, f.tenant, nil, buy.MediaBuyID)
	if err != nil {
		t.Fatalf("CancelMediaBuy: %v", err)
	}
	if got.State != domain.BuyCancelled {
		t.Fatalf("expected cancelled, got %s", got.State)
	}
}

func TestLifecycleMetrics(t *testing.T) {
	f := newFixture(t, true)
	reg := prometheus.NewRegistry()
	f.orch.metrics = NewMetrics(reg)
	f.orch.registry.Register("mock", func(tenant *domain.Tenant, opts adapters.Options) (adapters.Adapter, error) {
		r := adapters.NewRegistry()
		inner, err := r.ForTenant(tenant, opts)
		if err != nil {
			return nil, err
		}
		return &flakyAdapter{Adapter: inner, failuresN: 1}, nil
	})

	if _, _, err := f.orch.CreateMediaBuy(context.Background(), f.tenant, f.principal, createReq()); err != nil {
		t.Fatalf("CreateMediaBuy: %v", err)
	}

	if got := counterValue(t, reg, "salesagent_adapter_retries_total", map[string]string{"adapter": "mock"}); got != 1 {
		t.Fatalf("expected 1 retry counted, got %v", got)
	}
	if got := counterValue(t, reg, "salesagent_mediabuy_transitions_total", map[string]string{"from": "draft", "to": "active"}); got != 1 {
		t.Fatalf("expected 1 draft->active transition counted, got %v", got)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestReconcilerHealthy(t *testing.T) {
	f := newFixture(t, true)
	r := NewReconciler(f.orch, time.Minute, nil)
	ctx := context.Background()

	// Before the loop starts there is nothing to report on.
	if err := r.Healthy(ctx); err != nil {
		t.Fatalf("expected healthy before start, got %v", err)
	}

	r.markTick()
	if err := r.Healthy(ctx); err != nil {
		t.Fatalf("expected healthy after fresh tick, got %v", err)
	}

	r.mu.Lock()
	r.lastTick = time.Now().UTC().Add(-10 * time.Minute)
	r.mu.Unlock()
	if err := r.Healthy(ctx); err == nil {
		t.Fatal("expected stalled loop to fail the probe")
	}
}

func TestGetPerformance(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	req := createReq()
	req.FlightStart = time.Now().UTC().Add(-5 * 24 * time.Hour)
	req.FlightEnd = time.Now().UTC().Add(5 * 24 * time.Hour)
	buy, _, _ := f.orch.CreateMediaBuy(ctx, f.tenant, f.principal, req)

	perf, err := f.orch.GetPerformance(ctx, f.tenant, f.principal, buy.MediaBuyID, req.FlightStart, req.FlightEnd)
	if err != nil {
		t.Fatalf("GetPerformance: %v", err)
	}
	if perf.Impressions <= 0 {
		t.Fatalf("expected delivery at mid-flight, got %d", perf.Impressions)
	}
}
