// Package orchestrator owns the media-buy lifecycle. Every state change runs
// under a per-buy lock, lands exactly one audit entry, and goes through the
// transition table; adapter calls that fail transiently are retried with
// bounded exponential backoff.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/admesh/salesagent/internal/adapters"
	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/auth"
	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/targeting"
	"github.com/admesh/salesagent/internal/workflow"
)

// MediaBuyStore is the persistence contract for media buys.
type MediaBuyStore interface {
	Create(ctx context.Context, b *domain.MediaBuy) error
	Update(ctx context.Context, b *domain.MediaBuy) error
	ByID(ctx context.Context, tenantID uuid.UUID, mediaBuyID string) (*domain.MediaBuy, error)
	// ListByTenant returns the tenant's buys, optionally filtered to states.
	ListByTenant(ctx context.Context, tenantID uuid.UUID, states ...domain.MediaBuyState) ([]*domain.MediaBuy, error)
}

// ProductStore is the persistence contract for the product catalog.
type ProductStore interface {
	Upsert(ctx context.Context, p *domain.Product) error
	ByID(ctx context.Context, tenantID uuid.UUID, productID string) (*domain.Product, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Product, error)
}

// SignalStore is the persistence contract for the signal catalog.
type SignalStore interface {
	Upsert(ctx context.Context, tenantID uuid.UUID, s *domain.Signal) error
	List(ctx context.Context, tenantID uuid.UUID, query, signalType string) ([]*domain.Signal, error)
}

// principalLookup resolves the owning principal of a buy. ApproveBuy needs
// its platform mapping to run the remote create.
type principalLookup interface {
	ByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Principal, error)
}

// transitions is the lifecycle table. Absent entries are invalid.
var transitions = map[domain.MediaBuyState][]domain.MediaBuyState{
	domain.BuyDraft:           {domain.BuyPendingApproval, domain.BuyActive, domain.BuyFailed, domain.BuyCancelled},
	domain.BuyPendingApproval: {domain.BuyActive, domain.BuyFailed, domain.BuyCancelled},
	domain.BuyActive:          {domain.BuyPaused, domain.BuyCompleted, domain.BuyFailed},
	domain.BuyPaused:          {domain.BuyActive, domain.BuyCompleted, domain.BuyCancelled, domain.BuyFailed},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to domain.MediaBuyState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RetryPolicy bounds internal retries of transient adapter failures.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

// DefaultRetryPolicy retries three times starting at 500ms, doubling.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 500 * time.Millisecond}

// CreateBuyRequest is the validated input for creating a media buy.
type CreateBuyRequest struct {
	OrderName   string
	TotalBudget float64
	FlightStart time.Time
	FlightEnd   time.Time
	Packages    []domain.MediaPackage
	Targeting   *domain.TargetingOverlay
	// Raw preserves the caller's original request body for the audit trail.
	Raw json.RawMessage
}

// UpdateBuyRequest carries the mutable fields of an update. Nil means keep.
type UpdateBuyRequest struct {
	TotalBudget *float64
	FlightEnd   *time.Time
	Targeting   *domain.TargetingOverlay
}

// Orchestrator drives media buys through their lifecycle.
type Orchestrator struct {
	buys     MediaBuyStore
	products ProductStore
	signals  SignalStore
	tenants  auth.TenantStore
	registry *adapters.Registry
	workflow *workflow.Engine
	audit    *auditlog.Writer
	notifier workflow.Notifier
	retry    RetryPolicy
	dryRun   bool
	recorder *adapters.CallRecorder
	logger   *slog.Logger
	locks    *keyedMutex
	// lockWait bounds how long an operation queues behind another writer of
	// the same buy before surfacing a conflict.
	lockWait time.Duration
	now      func() time.Time
	metrics  *Metrics

	principals principalLookup

	adapterMu sync.Mutex
	adapters  map[uuid.UUID]adapters.Adapter
}

// Options configure the orchestrator.
type Options struct {
	Retry    RetryPolicy
	DryRun   bool
	Recorder *adapters.CallRecorder
	Notifier workflow.Notifier
	LockWait time.Duration
	Logger   *slog.Logger
	Metrics  *Metrics
}

// New constructs an orchestrator.
func New(buys MediaBuyStore, products ProductStore, signals SignalStore, tenants auth.TenantStore, registry *adapters.Registry, wf *workflow.Engine, audit *auditlog.Writer, opts Options) *Orchestrator {
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Orchestrator{
		buys:     buys,
		products: products,
		signals:  signals,
		tenants:  tenants,
		registry: registry,
		workflow: wf,
		audit:    audit,
		notifier: opts.Notifier,
		retry:    opts.Retry,
		dryRun:   opts.DryRun,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		locks:    newKeyedMutex(),
		lockWait: opts.LockWait,
		now:      func() time.Time { return time.Now().UTC() },
		metrics:  opts.Metrics,
		adapters: map[uuid.UUID]adapters.Adapter{},
	}
	if wf != nil {
		wf.SetBuyResolver(o)
	}
	return o
}

// adapterFor returns the tenant's adapter, constructing and caching it on
// first use so stateful adapters (the mock) keep their campaigns.
func (o *Orchestrator) adapterFor(tenant *domain.Tenant) (adapters.Adapter, error) {
	o.adapterMu.Lock()
	defer o.adapterMu.Unlock()
	if a, ok := o.adapters[tenant.ID]; ok {
		return a, nil
	}
	a, err := o.registry.ForTenant(tenant, adapters.Options{
		DryRun:   o.dryRun,
		Recorder: o.recorder,
		Logger:   o.logger,
	})
	if err != nil {
		return nil, err
	}
	o.adapters[tenant.ID] = a
	return a, nil
}

// withRetry runs op, retrying transient adapter failures with exponential
// backoff up to the configured attempt budget.
func (o *Orchestrator) withRetry(ctx context.Context, adapterName string, op func() error) error {
	delay := o.retry.Base
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !errs.Retryable(err) || attempt >= o.retry.Attempts {
			return err
		}
		o.metrics.retried(adapterName)
		o.logger.WarnContext(ctx, "adapter call failed, retrying",
			"error", err, "attempt", attempt, "backoff", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// ListProducts returns the tenant's buyable catalog.
func (o *Orchestrator) ListProducts(ctx context.Context, tenantID uuid.UUID) ([]*domain.Product, error) {
	all, err := o.products.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	out := all[:0]
	for _, p := range all {
		if !p.Expired(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListSignals returns matching signals from the tenant's catalog.
func (o *Orchestrator) ListSignals(ctx context.Context, tenantID uuid.UUID, query, signalType string) ([]*domain.Signal, error) {
	return o.signals.List(ctx, tenantID, query, signalType)
}

// GetAvails forecasts available inventory for a product and overlay.
func (o *Orchestrator) GetAvails(ctx context.Context, tenant *domain.Tenant, productID string, overlay *domain.TargetingOverlay, start, end time.Time) (*adapters.Avails, error) {
	if err := targeting.ValidateOverlay(overlay); err != nil {
		return nil, err
	}
	product, err := o.products.ByID(ctx, tenant.ID, productID)
	if err != nil {
		return nil, err
	}
	if product.Expired(o.now()) {
		return nil, errs.Validation("product_id", "product %s has expired", productID)
	}
	adapter, err := o.adapterFor(tenant)
	if err != nil {
		return nil, err
	}
	var avails *adapters.Avails
	err = o.withRetry(ctx, adapter.Name(), func() error {
		var aerr error
		avails, aerr = adapter.GetAvails(ctx, &adapters.AvailsRequest{
			Product:     product,
			Targeting:   overlay,
			FlightStart: start,
			FlightEnd:   end,
		})
		return aerr
	})
	return avails, err
}

// CreateMediaBuy validates and creates a buy. With auto-create enabled the
// buy goes straight to the adapter and activates; otherwise it parks in
// pending_approval behind a manual_approval task.
func (o *Orchestrator) CreateMediaBuy(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, req *CreateBuyRequest) (*domain.MediaBuy, []string, error) {
	if err := o.validateCreate(ctx, tenant, req); err != nil {
		return nil, nil, err
	}
	if principal.AdapterID(tenant.AdapterName) == "" {
		return nil, nil, errs.Validation("principal",
			"principal has no %s advertiser mapping", tenant.AdapterName)
	}

	now := o.now()
	buy := &domain.MediaBuy{
		MediaBuyID:  domain.NewPrefixedID("buy"),
		TenantID:    tenant.ID,
		PrincipalID: principal.ID,
		OrderName:   req.OrderName,
		AdapterName: tenant.AdapterName,
		Packages:    req.Packages,
		TotalBudget: req.TotalBudget,
		FlightStart: req.FlightStart,
		FlightEnd:   req.FlightEnd,
		Targeting:   req.Targeting,
		State:       domain.BuyDraft,
		RawRequest:  req.Raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.buys.Create(ctx, buy); err != nil {
		return nil, nil, errs.Wrap(errs.KindInternal, err, "storing media buy")
	}

	unlock, err := o.locks.acquire(ctx, buy.MediaBuyID, o.lockWait)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	// Budgets at or above the tenant's policy threshold park for human review
	// even when auto-create is enabled.
	if overPolicyThreshold(tenant, buy.TotalBudget) {
		if err := o.transition(ctx, buy, domain.BuyPendingApproval, "awaiting policy review", principal.ID.String()); err != nil {
			return nil, nil, err
		}
		if _, err := o.workflow.CreateTask(ctx, tenant.ID, domain.TaskPolicyReview, "media_buy", buy.MediaBuyID,
			fmt.Sprintf("policy review for media buy %s: budget %.2f meets threshold %.2f", buy.MediaBuyID, buy.TotalBudget, tenant.PolicyBudgetThreshold)); err != nil {
			o.logger.ErrorContext(ctx, "creating policy review task failed", "error", err, "media_buy_id", buy.MediaBuyID)
		}
		o.publish(ctx, tenant.ID, "media_buy.created", map[string]any{
			"media_buy_id": buy.MediaBuyID, "state": string(buy.State),
		})
		return buy, nil, nil
	}

	if !tenant.AutoCreateMediaBuys {
		if err := o.transition(ctx, buy, domain.BuyPendingApproval, "awaiting manual approval", principal.ID.String()); err != nil {
			return nil, nil, err
		}
		if _, err := o.workflow.CreateTask(ctx, tenant.ID, domain.TaskManualApproval, "media_buy", buy.MediaBuyID,
			fmt.Sprintf("approve media buy %s (%s, budget %.2f)", buy.MediaBuyID, buy.OrderName, buy.TotalBudget)); err != nil {
			o.logger.ErrorContext(ctx, "creating approval task failed", "error", err, "media_buy_id", buy.MediaBuyID)
		}
		o.publish(ctx, tenant.ID, "media_buy.created", map[string]any{
			"media_buy_id": buy.MediaBuyID, "state": string(buy.State),
		})
		return buy, nil, nil
	}

	warnings, err := o.activate(ctx, tenant, principal, buy)
	if err != nil {
		return nil, nil, err
	}
	o.publish(ctx, tenant.ID, "media_buy.created", map[string]any{
		"media_buy_id": buy.MediaBuyID, "state": string(buy.State),
	})
	return buy, warnings, nil
}

// activate runs the remote create and moves the buy to active. Caller holds
// the buy lock. When the adapter call succeeds but persisting the external ID
// fails, the buy is left in its prior state for the reconciler: reporting
// success without a durable record would be worse than retrying a create the
// adapters treat as repeat-safe.
func (o *Orchestrator) activate(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, buy *domain.MediaBuy) ([]string, error) {
	adapter, err := o.adapterFor(tenant)
	if err != nil {
		return nil, err
	}

	var result *adapters.CreateResult
	if buy.ExternalID == "" {
		err = o.withRetry(ctx, adapter.Name(), func() error {
			var aerr error
			result, aerr = adapter.CreateMediaBuy(ctx, &adapters.CreateRequest{
				MediaBuyID:   buy.MediaBuyID,
				AdvertiserID: principal.AdapterID(tenant.AdapterName),
				OrderName:    buy.OrderName,
				TotalBudget:  buy.TotalBudget,
				FlightStart:  buy.FlightStart,
				FlightEnd:    buy.FlightEnd,
				Packages:     buy.Packages,
				Targeting:    buy.Targeting,
			})
			return aerr
		})
		if err != nil {
			buy.LastError = err.Error()
			if terr := o.transition(ctx, buy, domain.BuyFailed, "adapter create failed: "+err.Error(), principal.ID.String()); terr != nil {
				o.logger.ErrorContext(ctx, "failing buy after adapter error", "error", terr, "media_buy_id", buy.MediaBuyID)
			}
			return nil, err
		}
		buy.ExternalID = result.ExternalID
	}

	if err := o.transition(ctx, buy, domain.BuyActive, "campaign created on "+adapter.Name(), principal.ID.String()); err != nil {
		return nil, err
	}
	if result != nil {
		return result.Warnings, nil
	}
	return nil, nil
}

// transition applies one lifecycle step: table check, persist, one audit
// entry. Callers hold the buy lock.
func (o *Orchestrator) transition(ctx context.Context, buy *domain.MediaBuy, to domain.MediaBuyState, detail, principalID string) error {
	from := buy.State
	if !CanTransition(from, to) {
		return errs.New(errs.KindInvalidTransition, "media buy %s cannot go %s -> %s", buy.MediaBuyID, from, to)
	}
	now := o.now()
	buy.State = to
	buy.UpdatedAt = now
	if to == domain.BuyCompleted {
		buy.CompletedAt = &now
	}
	if err := o.buys.Update(ctx, buy); err != nil {
		buy.State = from
		return errs.Wrap(errs.KindInternal, err, "persisting transition %s -> %s", from, to)
	}
	o.metrics.transitioned(from, to)
	o.audit.Record(ctx, buy.TenantID, principalID, "media_buy.transition", true, map[string]any{
		"media_buy_id": buy.MediaBuyID,
		"from":         string(from),
		"to":           string(to),
		"detail":       detail,
	})
	return nil
}

func (o *Orchestrator) validateCreate(ctx context.Context, tenant *domain.Tenant, req *CreateBuyRequest) error {
	if req.OrderName == "" {
		return errs.Validation("order_name", "order_name is required")
	}
	if req.TotalBudget <= 0 {
		return errs.Validation("total_budget", "total_budget must be positive, got %v", req.TotalBudget)
	}
	if !req.FlightEnd.After(req.FlightStart) {
		return errs.Validation("flight_end", "flight_end must be after flight_start")
	}
	if len(req.Packages) == 0 {
		return errs.Validation("packages", "at least one package is required")
	}
	if err := targeting.ValidateOverlay(req.Targeting); err != nil {
		return err
	}
	now := o.now()
	for i := range req.Packages {
		pkg := &req.Packages[i]
		if err := targeting.ValidateOverlay(pkg.Targeting); err != nil {
			return err
		}
		product, err := o.products.ByID(ctx, tenant.ID, pkg.ProductID)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return errs.Validation("packages", "product %s not found", pkg.ProductID)
			}
			return err
		}
		if product.Expired(now) {
			return errs.Validation("packages", "product %s has expired", pkg.ProductID)
		}
		if pkg.PackageID == "" {
			pkg.PackageID = domain.NewPrefixedID("pkg")
		}
		if pkg.Name == "" {
			pkg.Name = product.Name
		}
		if pkg.Delivery == "" {
			pkg.Delivery = product.Delivery
		}
		if pkg.CPM == 0 && product.IsFixedPrice {
			pkg.CPM = product.CPM
		}
		if pkg.CPM <= 0 {
			return errs.Validation("packages", "package %s needs a positive cpm", pkg.PackageID)
		}
		if pkg.Impressions == 0 && pkg.Budget > 0 {
			pkg.Impressions = int64(pkg.Budget / pkg.CPM * 1000)
		}
	}
	return nil
}

// buyFor loads a buy and checks principal ownership.
func (o *Orchestrator) buyFor(ctx context.Context, tenantID uuid.UUID, principal *domain.Principal, mediaBuyID string) (*domain.MediaBuy, error) {
	buy, err := o.buys.ByID(ctx, tenantID, mediaBuyID)
	if err != nil {
		return nil, err
	}
	if principal != nil && buy.PrincipalID != principal.ID {
		return nil, errs.New(errs.KindForbidden, "media buy %s belongs to another principal", mediaBuyID)
	}
	return buy, nil
}

// GetMediaBuy returns a buy the principal owns.
func (o *Orchestrator) GetMediaBuy(ctx context.Context, tenantID uuid.UUID, principal *domain.Principal, mediaBuyID string) (*domain.MediaBuy, error) {
	return o.buyFor(ctx, tenantID, principal, mediaBuyID)
}

// UpdateMediaBuy applies budget, flight, and targeting changes to a
// non-terminal buy. Changes reach the platform before they are persisted, so
// a failed push leaves the stored buy untouched.
func (o *Orchestrator) UpdateMediaBuy(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, mediaBuyID string, req *UpdateBuyRequest) (*domain.MediaBuy, error) {
	unlock, err := o.locks.acquire(ctx, mediaBuyID, o.lockWait)
	if err != nil {
		return nil, err
	}
	defer unlock()

	buy, err := o.buyFor(ctx, tenant.ID, principal, mediaBuyID)
	if err != nil {
		return nil, err
	}
	if buy.State.Terminal() {
		return nil, errs.New(errs.KindInvalidTransition, "media buy %s is %s and cannot be updated", mediaBuyID, buy.State)
	}
	prevBudget := buy.TotalBudget
	if req.Targeting != nil {
		if err := targeting.ValidateOverlay(req.Targeting); err != nil {
			return nil, err
		}
		buy.Targeting = req.Targeting
	}
	if req.TotalBudget != nil {
		if *req.TotalBudget <= 0 {
			return nil, errs.Validation("total_budget", "total_budget must be positive")
		}
		buy.TotalBudget = *req.TotalBudget
	}
	if req.FlightEnd != nil {
		if !req.FlightEnd.After(buy.FlightStart) {
			return nil, errs.Validation("flight_end", "flight_end must be after flight_start")
		}
		buy.FlightEnd = *req.FlightEnd
	}

	if buy.ExternalID != "" {
		adapter, err := o.adapterFor(tenant)
		if err != nil {
			return nil, err
		}
		upd := &adapters.UpdateRequest{ExternalID: buy.ExternalID, Targeting: req.Targeting}
		if req.TotalBudget != nil {
			upd.TotalBudget = *req.TotalBudget
		}
		if req.FlightEnd != nil {
			upd.FlightEnd = *req.FlightEnd
		}
		if err := o.withRetry(ctx, adapter.Name(), func() error { return adapter.UpdateMediaBuy(ctx, upd) }); err != nil {
			return nil, err
		}
	}

	buy.UpdatedAt = o.now()
	if err := o.buys.Update(ctx, buy); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "persisting update")
	}

	// A budget raised across the policy threshold gets an after-the-fact
	// review; rejection pauses and cancels the buy.
	if prevBudget < tenant.PolicyBudgetThreshold && overPolicyThreshold(tenant, buy.TotalBudget) {
		if _, err := o.workflow.CreateTask(ctx, tenant.ID, domain.TaskPolicyReview, "media_buy", buy.MediaBuyID,
			fmt.Sprintf("policy review for media buy %s: budget raised to %.2f, threshold %.2f", buy.MediaBuyID, buy.TotalBudget, tenant.PolicyBudgetThreshold)); err != nil {
			o.logger.ErrorContext(ctx, "creating policy review task failed", "error", err, "media_buy_id", buy.MediaBuyID)
		}
	}
	return buy, nil
}

// overPolicyThreshold reports whether the tenant's policy threshold flags
// this budget for review. A zero threshold disables the check.
func overPolicyThreshold(tenant *domain.Tenant, budget float64) bool {
	return tenant.PolicyBudgetThreshold > 0 && budget >= tenant.PolicyBudgetThreshold
}

// PauseMediaBuy pauses an active buy on the platform and locally.
func (o *Orchestrator) PauseMediaBuy(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, mediaBuyID string) (*domain.MediaBuy, error) {
	return o.lifecycleOp(ctx, tenant, principal, mediaBuyID, domain.BuyPaused, "paused by principal",
		func(a adapters.Adapter, externalID string) error { return a.Pause(ctx, externalID) })
}

// ResumeMediaBuy resumes a paused buy.
func (o *Orchestrator) ResumeMediaBuy(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, mediaBuyID string) (*domain.MediaBuy, error) {
	return o.lifecycleOp(ctx, tenant, principal, mediaBuyID, domain.BuyActive, "resumed by principal",
		func(a adapters.Adapter, externalID string) error { return a.Resume(ctx, externalID) })
}

// CancelMediaBuy cancels a buy that has not gone terminal. Active buys must
// be paused first. A nil principal is an operator acting through the admin
// surface; ownership is not checked in that case.
func (o *Orchestrator) CancelMediaBuy(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, mediaBuyID string) (*domain.MediaBuy, error) {
	unlock, err := o.locks.acquire(ctx, mediaBuyID, o.lockWait)
	if err != nil {
		return nil, err
	}
	defer unlock()

	buy, err := o.buyFor(ctx, tenant.ID, principal, mediaBuyID)
	if err != nil {
		return nil, err
	}
	actor, detail := "", "cancelled by operator"
	if principal != nil {
		actor, detail = principal.ID.String(), "cancelled by principal"
	}
	if err := o.transition(ctx, buy, domain.BuyCancelled, detail, actor); err != nil {
		return nil, err
	}
	return buy, nil
}

func (o *Orchestrator) lifecycleOp(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, mediaBuyID string, to domain.MediaBuyState, detail string, platformOp func(adapters.Adapter, string) error) (*domain.MediaBuy, error) {
	unlock, err := o.locks.acquire(ctx, mediaBuyID, o.lockWait)
	if err != nil {
		return nil, err
	}
	defer unlock()

	buy, err := o.buyFor(ctx, tenant.ID, principal, mediaBuyID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(buy.State, to) {
		return nil, errs.New(errs.KindInvalidTransition, "media buy %s cannot go %s -> %s", mediaBuyID, buy.State, to)
	}
	adapter, err := o.adapterFor(tenant)
	if err != nil {
		return nil, err
	}
	if buy.ExternalID != "" {
		if err := o.withRetry(ctx, adapter.Name(), func() error { return platformOp(adapter, buy.ExternalID) }); err != nil {
			return nil, err
		}
	}
	if err := o.transition(ctx, buy, to, detail, principal.ID.String()); err != nil {
		return nil, err
	}
	return buy, nil
}

// GetPerformance fetches delivery for a buy's flight-to-date.
func (o *Orchestrator) GetPerformance(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, mediaBuyID string, start, end time.Time) (*adapters.Performance, error) {
	buy, err := o.buyFor(ctx, tenant.ID, principal, mediaBuyID)
	if err != nil {
		return nil, err
	}
	if buy.ExternalID == "" {
		return &adapters.Performance{WindowStart: start, WindowEnd: end}, nil
	}
	adapter, err := o.adapterFor(tenant)
	if err != nil {
		return nil, err
	}
	var perf *adapters.Performance
	err = o.withRetry(ctx, adapter.Name(), func() error {
		var aerr error
		perf, aerr = adapter.GetPerformance(ctx, buy.ExternalID, start, end)
		return aerr
	})
	return perf, err
}

// ApproveBuy implements workflow.BuyResolver: a human approved the buy, so
// run the adapter create and activate it.
func (o *Orchestrator) ApproveBuy(ctx context.Context, tenantID uuid.UUID, mediaBuyID string) error {
	unlock, err := o.locks.acquire(ctx, mediaBuyID, o.lockWait)
	if err != nil {
		return err
	}
	defer unlock()

	buy, err := o.buyFor(ctx, tenantID, nil, mediaBuyID)
	if err != nil {
		return err
	}
	// A review resolved in favor of an already-running buy changes nothing.
	if buy.State == domain.BuyActive {
		return nil
	}
	if buy.State != domain.BuyPendingApproval {
		return errs.New(errs.KindInvalidTransition, "media buy %s is %s, not pending_approval", mediaBuyID, buy.State)
	}
	tenant, err := o.tenants.ByID(ctx, tenantID)
	if err != nil {
		return err
	}
	principal, err := o.principalForBuy(ctx, buy)
	if err != nil {
		return err
	}
	if _, err := o.activate(ctx, tenant, principal, buy); err != nil {
		return err
	}
	o.publish(ctx, tenantID, "media_buy.approved", map[string]any{"media_buy_id": mediaBuyID})
	return nil
}

// RejectBuy implements workflow.BuyResolver.
func (o *Orchestrator) RejectBuy(ctx context.Context, tenantID uuid.UUID, mediaBuyID, reason string) error {
	unlock, err := o.locks.acquire(ctx, mediaBuyID, o.lockWait)
	if err != nil {
		return err
	}
	defer unlock()

	buy, err := o.buyFor(ctx, tenantID, nil, mediaBuyID)
	if err != nil {
		return err
	}
	buy.LastError = reason
	// Rejecting a running buy stops remote delivery before cancelling.
	if buy.State == domain.BuyActive {
		tenant, err := o.tenants.ByID(ctx, tenantID)
		if err != nil {
			return err
		}
		adapter, err := o.adapterFor(tenant)
		if err != nil {
			return err
		}
		if buy.ExternalID != "" {
			if err := o.withRetry(ctx, adapter.Name(), func() error { return adapter.Pause(ctx, buy.ExternalID) }); err != nil {
				return err
			}
		}
		if err := o.transition(ctx, buy, domain.BuyPaused, "paused pending rejection", ""); err != nil {
			return err
		}
	}
	return o.transition(ctx, buy, domain.BuyCancelled, "rejected: "+reason, "")
}

// SetPrincipalLookup wires principal resolution for approval flows.
func (o *Orchestrator) SetPrincipalLookup(l principalLookup) { o.principals = l }

func (o *Orchestrator) principalForBuy(ctx context.Context, buy *domain.MediaBuy) (*domain.Principal, error) {
	if o.principals == nil {
		return nil, errs.New(errs.KindInternal, "no principal lookup wired")
	}
	return o.principals.ByID(ctx, buy.TenantID, buy.PrincipalID)
}

func (o *Orchestrator) publish(ctx context.Context, tenantID uuid.UUID, event string, payload map[string]any) {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(ctx, tenantID, event, payload)
}
