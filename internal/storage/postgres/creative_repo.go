package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

// CreativeRepository implements workflow.CreativeStore with PostgreSQL.
type CreativeRepository struct {
	db *gorm.DB
}

// NewCreativeRepository creates a CreativeRepository.
func NewCreativeRepository(db *gorm.DB) *CreativeRepository {
	return &CreativeRepository{db: db}
}

func (r *CreativeRepository) Create(ctx context.Context, c *domain.Creative) error {
	model := toCreativeModel(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating creative %q: %w", c.CreativeID, err)
	}
	return nil
}

func (r *CreativeRepository) Update(ctx context.Context, c *domain.Creative) error {
	model := toCreativeModel(c)
	res := r.db.WithContext(ctx).Model(&CreativeModel{}).
		Scopes(TenantScope(c.TenantID)).
		Where("creative_id = ?", c.CreativeID).
		Select("*").
		Omit("creative_id", "tenant_id", "created_at").
		Updates(model)
	if res.Error != nil {
		return fmt.Errorf("updating creative %q: %w", c.CreativeID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.KindNotFound, "creative %q not found", c.CreativeID)
	}
	return nil
}

func (r *CreativeRepository) ByID(ctx context.Context, tenantID uuid.UUID, creativeID string) (*domain.Creative, error) {
	var model CreativeModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model, "creative_id = ?", creativeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "creative %q not found", creativeID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading creative %q: %w", creativeID, err)
	}
	return toCreativeDomain(&model), nil
}

func (r *CreativeRepository) ListByPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) ([]*domain.Creative, error) {
	var models []CreativeModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("principal_id = ?", principalID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing creatives: %w", err)
	}
	creatives := make([]*domain.Creative, len(models))
	for i := range models {
		creatives[i] = toCreativeDomain(&models[i])
	}
	return creatives, nil
}

// AssignmentRepository implements workflow.AssignmentStore with PostgreSQL.
type AssignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository creates an AssignmentRepository.
func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) Create(ctx context.Context, a *domain.CreativeAssignment) error {
	model := toAssignmentModel(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating creative assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) ListByMediaBuy(ctx context.Context, tenantID uuid.UUID, mediaBuyID string) ([]*domain.CreativeAssignment, error) {
	var models []CreativeAssignmentModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("media_buy_id = ?", mediaBuyID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing assignments for %q: %w", mediaBuyID, err)
	}
	assignments := make([]*domain.CreativeAssignment, len(models))
	for i := range models {
		assignments[i] = toAssignmentDomain(&models[i])
	}
	return assignments, nil
}
