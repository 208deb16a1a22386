package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/workflow"
)

// TaskRepository implements workflow.TaskStore with PostgreSQL.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, t *domain.HumanTask) error {
	model := toTaskModel(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating task %s: %w", t.TaskID, err)
	}
	return nil
}

func (r *TaskRepository) Update(ctx context.Context, t *domain.HumanTask) error {
	model := toTaskModel(t)
	res := r.db.WithContext(ctx).Model(&HumanTaskModel{}).
		Scopes(TenantScope(t.TenantID)).
		Where("task_id = ?", t.TaskID).
		Select("*").
		Omit("task_id", "tenant_id", "created_at").
		Updates(model)
	if res.Error != nil {
		return fmt.Errorf("updating task %s: %w", t.TaskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.KindNotFound, "task %s not found", t.TaskID)
	}
	return nil
}

func (r *TaskRepository) ByID(ctx context.Context, tenantID, taskID uuid.UUID) (*domain.HumanTask, error) {
	var model HumanTaskModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "task %s not found", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}
	return toTaskDomain(&model), nil
}

func (r *TaskRepository) List(ctx context.Context, tenantID uuid.UUID, f workflow.TaskFilter) ([]*domain.HumanTask, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC").
		Limit(limit)
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.SubjectID != "" {
		q = q.Where("subject_id = ?", f.SubjectID)
	}
	var models []HumanTaskModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	tasks := make([]*domain.HumanTask, len(models))
	for i := range models {
		tasks[i] = toTaskDomain(&models[i])
	}
	return tasks, nil
}
