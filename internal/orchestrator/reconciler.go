package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/admesh/salesagent/internal/domain"
)

// DefaultReconcileCron runs reconciliation every fifteen minutes.
const DefaultReconcileCron = "*/15 * * * *"

// Reconciler periodically compares local buy state against the platforms:
// completed campaigns transition to completed, and buys whose remote create
// never landed are retried. Each tenant runs on its own cron schedule.
type Reconciler struct {
	orch     *Orchestrator
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastRun  map[uuid.UUID]time.Time
	lastTick time.Time
}

// NewReconciler builds the reconciler. interval is the scheduling tick, not
// the per-tenant cadence.
func NewReconciler(orch *Orchestrator, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		orch:     orch,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger,
		lastRun:  map[uuid.UUID]time.Time{},
	}
}

// Run ticks until ctx is cancelled, reconciling each tenant whose schedule
// has come due.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.markTick()
	r.logger.InfoContext(ctx, "reconciler started", "tick", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reconciler stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) markTick() {
	r.mu.Lock()
	r.lastTick = r.orch.now()
	r.mu.Unlock()
}

// Healthy is a readiness probe: it fails when the reconcile loop has missed
// several ticks, which means background sync with the platforms has stalled.
func (r *Reconciler) Healthy(_ context.Context) error {
	r.mu.Lock()
	last := r.lastTick
	r.mu.Unlock()
	if last.IsZero() {
		return nil // Loop not started yet.
	}
	if since := r.orch.now().Sub(last); since > 3*r.interval {
		return fmt.Errorf("reconcile loop stalled, last tick %s ago", since.Round(time.Second))
	}
	return nil
}

func (r *Reconciler) tick(ctx context.Context) {
	r.markTick()
	tenants, err := r.orch.tenants.List(ctx, true)
	if err != nil {
		r.logger.ErrorContext(ctx, "listing tenants for reconciliation", "error", err)
		return
	}
	now := r.orch.now()
	for _, tenant := range tenants {
		if !r.due(tenant, now) {
			continue
		}
		if err := r.ReconcileTenant(ctx, tenant); err != nil {
			r.logger.ErrorContext(ctx, "tenant reconciliation failed",
				"error", err, "tenant_id", tenant.ID)
		}
		r.mu.Lock()
		r.lastRun[tenant.ID] = now
		r.mu.Unlock()
	}
}

// due evaluates the tenant's cron expression against its last run.
func (r *Reconciler) due(tenant *domain.Tenant, now time.Time) bool {
	expr := tenant.ReconcileCron
	if expr == "" {
		expr = DefaultReconcileCron
	}
	schedule, err := r.parser.Parse(expr)
	if err != nil {
		r.logger.Warn("invalid reconcile schedule, using default",
			"tenant_id", tenant.ID, "cron", expr, "error", err)
		schedule, _ = r.parser.Parse(DefaultReconcileCron)
	}
	r.mu.Lock()
	last, ok := r.lastRun[tenant.ID]
	r.mu.Unlock()
	if !ok {
		return true
	}
	return !schedule.Next(last).After(now)
}

// ReconcileTenant syncs one tenant's in-flight buys with its platform.
func (r *Reconciler) ReconcileTenant(ctx context.Context, tenant *domain.Tenant) error {
	buys, err := r.orch.buys.ListByTenant(ctx, tenant.ID, domain.BuyActive, domain.BuyPaused, domain.BuyDraft)
	if err != nil {
		return err
	}
	adapter, err := r.orch.adapterFor(tenant)
	if err != nil {
		return err
	}
	for _, buy := range buys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.reconcileBuy(ctx, tenant, adapter.Name(), buy); err != nil {
			r.logger.WarnContext(ctx, "reconciling buy failed",
				"error", err, "media_buy_id", buy.MediaBuyID)
		}
	}
	return nil
}

func (r *Reconciler) reconcileBuy(ctx context.Context, tenant *domain.Tenant, adapterName string, buy *domain.MediaBuy) error {
	unlock, err := r.orch.locks.acquire(ctx, buy.MediaBuyID, r.orch.lockWait)
	if err != nil {
		return err
	}
	defer unlock()

	// Draft buys in auto-create tenants had their remote create interrupted;
	// retry it. Manual-approval tenants park drafts behind a task instead.
	if buy.State == domain.BuyDraft {
		if !tenant.AutoCreateMediaBuys {
			return nil
		}
		principal, err := r.orch.principalForBuy(ctx, buy)
		if err != nil {
			return err
		}
		_, err = r.orch.activate(ctx, tenant, principal, buy)
		return err
	}

	if buy.ExternalID == "" {
		return nil
	}
	adapter, err := r.orch.adapterFor(tenant)
	if err != nil {
		return err
	}
	status, err := adapter.GetStatus(ctx, buy.ExternalID)
	if err != nil {
		return err
	}
	if status.State == "completed" && buy.State != domain.BuyCompleted {
		if err := r.orch.transition(ctx, buy, domain.BuyCompleted, "flight ended on "+adapterName, ""); err != nil {
			return err
		}
		r.orch.publish(ctx, tenant.ID, "campaign.completed", map[string]any{
			"media_buy_id": buy.MediaBuyID,
		})
	}
	return nil
}
