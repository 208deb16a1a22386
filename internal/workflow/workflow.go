// Package workflow implements the creative approval pipeline and the human
// task queue. Uploads matching a tenant's format allow-list approve
// automatically; everything else produces a creative_review task that a human
// resolves through the admin API. Tasks close in two steps: completion records
// the decision, verification confirms the decision was applied.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

// CreativeStore is the persistence contract for creatives.
type CreativeStore interface {
	Create(ctx context.Context, c *domain.Creative) error
	Update(ctx context.Context, c *domain.Creative) error
	ByID(ctx context.Context, tenantID uuid.UUID, creativeID string) (*domain.Creative, error)
	ListByPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]*domain.Creative, error)
}

// AssignmentStore is the persistence contract for creative assignments.
type AssignmentStore interface {
	Create(ctx context.Context, a *domain.CreativeAssignment) error
	ListByMediaBuy(ctx context.Context, tenantID uuid.UUID, mediaBuyID string) ([]*domain.CreativeAssignment, error)
}

// TaskFilter narrows a task listing. Zero values match everything.
type TaskFilter struct {
	Status    domain.TaskStatus
	Type      domain.TaskType
	SubjectID string
	Limit     int
}

// TaskStore is the persistence contract for human tasks.
type TaskStore interface {
	Create(ctx context.Context, t *domain.HumanTask) error
	Update(ctx context.Context, t *domain.HumanTask) error
	ByID(ctx context.Context, tenantID, taskID uuid.UUID) (*domain.HumanTask, error)
	List(ctx context.Context, tenantID uuid.UUID, f TaskFilter) ([]*domain.HumanTask, error)
}

// Notifier publishes workflow events to interested parties. Delivery failures
// are the notifier's problem; the engine never rolls back on them.
type Notifier interface {
	Publish(ctx context.Context, tenantID uuid.UUID, event string, payload map[string]any)
}

// BuyResolver applies a completed media-buy approval task back to the buy's
// lifecycle. Implemented by the orchestrator and injected after construction
// to keep the dependency one-way.
type BuyResolver interface {
	ApproveBuy(ctx context.Context, tenantID uuid.UUID, mediaBuyID string) error
	RejectBuy(ctx context.Context, tenantID uuid.UUID, mediaBuyID, reason string) error
}

const (
	ResolutionApproved = "approved"
	ResolutionRejected = "rejected"
)

// Engine runs the creative and approval workflows for all tenants.
type Engine struct {
	creatives   CreativeStore
	assignments AssignmentStore
	tasks       TaskStore
	audit       *auditlog.Writer
	notifier    Notifier
	buys        BuyResolver
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine constructs the workflow engine. notifier may be nil.
func NewEngine(creatives CreativeStore, assignments AssignmentStore, tasks TaskStore, audit *auditlog.Writer, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		creatives:   creatives,
		assignments: assignments,
		tasks:       tasks,
		audit:       audit,
		notifier:    notifier,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetBuyResolver wires the orchestrator in after both sides exist.
func (e *Engine) SetBuyResolver(r BuyResolver) { e.buys = r }

// SetMetrics wires task counters. Optional; nil disables collection.
func (e *Engine) SetMetrics(m *Metrics) { e.metrics = m }

// UploadCreative registers a creative and decides its review path. Formats on
// the tenant's allow-list approve immediately; anything else waits on a
// creative_review task. Returns the stored creative and the task, if one was
// created.
func (e *Engine) UploadCreative(ctx context.Context, tenant *domain.Tenant, principal *domain.Principal, c *domain.Creative) (*domain.Creative, *domain.HumanTask, error) {
	if c.Name == "" {
		return nil, nil, errs.Validation("name", "creative name is required")
	}
	if c.FormatID == "" {
		return nil, nil, errs.Validation("format_id", "format_id is required")
	}
	if c.ContentURI == "" {
		return nil, nil, errs.Validation("content_uri", "content_uri is required")
	}

	now := e.now()
	c.CreativeID = domain.NewPrefixedID("cr")
	c.TenantID = tenant.ID
	c.PrincipalID = principal.ID
	c.CreatedAt = now
	c.UpdatedAt = now

	autoApproved := formatAllowed(tenant.AutoApproveFormats, c.FormatID)
	if autoApproved {
		c.Status = domain.CreativeAutoApproved
		c.Detail = "format on tenant auto-approve list"
	} else {
		c.Status = domain.CreativePendingReview
		c.Detail = "awaiting human review"
	}
	if err := e.creatives.Create(ctx, c); err != nil {
		return nil, nil, errs.Wrap(errs.KindInternal, err, "storing creative")
	}

	var task *domain.HumanTask
	if !autoApproved {
		var err error
		task, err = e.CreateTask(ctx, tenant.ID, domain.TaskCreativeReview, "creative", c.CreativeID,
			"review creative "+c.Name+" (format "+c.FormatID+")")
		if err != nil {
			// Creative stays pending_review; the reconciler re-creates
			// missing review tasks on its next pass.
			e.logger.ErrorContext(ctx, "creating review task failed", "error", err, "creative_id", c.CreativeID)
		}
	}

	e.audit.Record(ctx, tenant.ID, principal.ID.String(), "upload_creative", true, map[string]any{
		"creative_id": c.CreativeID,
		"status":      string(c.Status),
	})
	if autoApproved {
		e.publish(ctx, tenant.ID, "creative.approved", map[string]any{"creative_id": c.CreativeID, "auto": true})
	}
	return c, task, nil
}

// CreativeByID fetches a creative, enforcing principal ownership.
func (e *Engine) CreativeByID(ctx context.Context, tenantID, principalID uuid.UUID, creativeID string) (*domain.Creative, error) {
	c, err := e.creatives.ByID(ctx, tenantID, creativeID)
	if err != nil {
		return nil, err
	}
	if c.PrincipalID != principalID {
		return nil, errs.New(errs.KindForbidden, "creative %s belongs to another principal", creativeID)
	}
	return c, nil
}

// AssignCreative attaches an approved creative to a media buy package.
// Unapproved creatives are rejected with creative_not_approved.
func (e *Engine) AssignCreative(ctx context.Context, tenantID, principalID uuid.UUID, creativeID, mediaBuyID, packageID string) (*domain.CreativeAssignment, error) {
	c, err := e.CreativeByID(ctx, tenantID, principalID, creativeID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Assignable() {
		return nil, errs.New(errs.KindCreativeNotApproved,
			"creative %s is %s and cannot serve", creativeID, c.Status)
	}
	a := &domain.CreativeAssignment{
		ID:         domain.NewID(),
		TenantID:   tenantID,
		CreativeID: creativeID,
		MediaBuyID: mediaBuyID,
		PackageID:  packageID,
		CreatedAt:  e.now(),
	}
	if err := e.assignments.Create(ctx, a); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "storing assignment")
	}
	e.audit.Record(ctx, tenantID, principalID.String(), "assign_creative", true, map[string]any{
		"creative_id":  creativeID,
		"media_buy_id": mediaBuyID,
		"package_id":   packageID,
	})
	return a, nil
}

// CreateTask opens a human task. Used internally and by the orchestrator for
// manual buy approval.
func (e *Engine) CreateTask(ctx context.Context, tenantID uuid.UUID, typ domain.TaskType, subjectType, subjectID, detail string) (*domain.HumanTask, error) {
	now := e.now()
	task := &domain.HumanTask{
		TaskID:      domain.NewID(),
		TenantID:    tenantID,
		Type:        typ,
		Status:      domain.TaskPending,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Detail:      detail,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "storing task")
	}
	e.metrics.taskCreated(typ)
	return task, nil
}

// ListTasks returns a tenant's tasks matching the filter.
func (e *Engine) ListTasks(ctx context.Context, tenantID uuid.UUID, f TaskFilter) ([]*domain.HumanTask, error) {
	return e.tasks.List(ctx, tenantID, f)
}

// ClaimTask assigns a pending task to a reviewer.
func (e *Engine) ClaimTask(ctx context.Context, tenantID, taskID uuid.UUID, assignee string) (*domain.HumanTask, error) {
	task, err := e.tasks.ByID(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskPending {
		return nil, errs.New(errs.KindInvalidTransition, "task %s is %s, only pending tasks can be claimed", taskID, task.Status)
	}
	task.Status = domain.TaskAssigned
	task.Assignee = assignee
	task.UpdatedAt = e.now()
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "updating task")
	}
	return task, nil
}

// CompleteTask records a human decision and applies its effect to the task's
// subject: creative status flips, and media-buy approval tasks feed back into
// the buy lifecycle through the resolver.
func (e *Engine) CompleteTask(ctx context.Context, tenantID, taskID uuid.UUID, resolution, detail string) (*domain.HumanTask, error) {
	if resolution != ResolutionApproved && resolution != ResolutionRejected {
		return nil, errs.Validation("resolution", "resolution must be %q or %q", ResolutionApproved, ResolutionRejected)
	}
	task, err := e.tasks.ByID(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskPending && task.Status != domain.TaskAssigned {
		return nil, errs.New(errs.KindInvalidTransition, "task %s is %s, cannot complete", taskID, task.Status)
	}

	now := e.now()
	task.Status = domain.TaskCompleted
	task.Resolution = resolution
	task.ResolutionDetail = detail
	task.UpdatedAt = now
	task.CompletedAt = &now
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "updating task")
	}

	e.metrics.taskCompleted(task.Type, resolution)

	if err := e.applyResolution(ctx, task); err != nil {
		// The decision is recorded; applying it is retried on verify.
		e.logger.ErrorContext(ctx, "applying task resolution failed",
			"error", err, "task_id", taskID, "subject", task.SubjectID)
	}
	e.audit.Record(ctx, tenantID, "", "complete_task", true, map[string]any{
		"task_id":    taskID.String(),
		"resolution": resolution,
		"subject":    task.SubjectID,
	})
	return task, nil
}

// VerifyTask is the second sign-off closing a completed task.
func (e *Engine) VerifyTask(ctx context.Context, tenantID, taskID uuid.UUID) (*domain.HumanTask, error) {
	task, err := e.tasks.ByID(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskCompleted {
		return nil, errs.New(errs.KindInvalidTransition, "task %s is %s, only completed tasks can be verified", taskID, task.Status)
	}
	now := e.now()
	task.Status = domain.TaskVerified
	task.UpdatedAt = now
	task.VerifiedAt = &now
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "updating task")
	}
	return task, nil
}

func (e *Engine) applyResolution(ctx context.Context, task *domain.HumanTask) error {
	switch task.SubjectType {
	case "creative":
		c, err := e.creatives.ByID(ctx, task.TenantID, task.SubjectID)
		if err != nil {
			return err
		}
		if task.Resolution == ResolutionApproved {
			c.Status = domain.CreativeApproved
		} else {
			c.Status = domain.CreativeRejected
		}
		c.Detail = task.ResolutionDetail
		c.UpdatedAt = e.now()
		if err := e.creatives.Update(ctx, c); err != nil {
			return err
		}
		e.publish(ctx, task.TenantID, "creative."+task.Resolution, map[string]any{"creative_id": c.CreativeID})
		return nil
	case "media_buy":
		if e.buys == nil {
			return errs.New(errs.KindInternal, "no buy resolver wired")
		}
		if task.Resolution == ResolutionApproved {
			return e.buys.ApproveBuy(ctx, task.TenantID, task.SubjectID)
		}
		return e.buys.RejectBuy(ctx, task.TenantID, task.SubjectID, task.ResolutionDetail)
	default:
		return errs.New(errs.KindInternal, "unknown task subject type %q", task.SubjectType)
	}
}

func (e *Engine) publish(ctx context.Context, tenantID uuid.UUID, event string, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(ctx, tenantID, event, payload)
}

func formatAllowed(allowed []string, formatID string) bool {
	for _, f := range allowed {
		if f == formatID {
			return true
		}
	}
	return false
}
