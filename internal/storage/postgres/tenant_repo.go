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

// TenantRepository implements auth.TenantStore with PostgreSQL.
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a TenantRepository.
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	model := toTenantModel(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.KindConflict, "tenant subdomain %q already exists", t.Subdomain)
		}
		return fmt.Errorf("creating tenant %q: %w", t.Subdomain, err)
	}
	return nil
}

func (r *TenantRepository) Update(ctx context.Context, t *domain.Tenant) error {
	model := toTenantModel(t)
	res := r.db.WithContext(ctx).Model(&TenantModel{}).
		Where("id = ?", t.ID).
		Updates(model)
	if res.Error != nil {
		return fmt.Errorf("updating tenant %s: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.KindNotFound, "tenant %s not found", t.ID)
	}
	return nil
}

func (r *TenantRepository) ByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	var model TenantModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "tenant %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", id, err)
	}
	return toTenantDomain(&model), nil
}

func (r *TenantRepository) BySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	var model TenantModel
	err := r.db.WithContext(ctx).First(&model, "subdomain = ?", subdomain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "tenant %q not found", subdomain)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %q: %w", subdomain, err)
	}
	return toTenantDomain(&model), nil
}

func (r *TenantRepository) List(ctx context.Context, enabledOnly bool) ([]*domain.Tenant, error) {
	q := r.db.WithContext(ctx).Order("subdomain ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var models []TenantModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	tenants := make([]*domain.Tenant, len(models))
	for i := range models {
		tenants[i] = toTenantDomain(&models[i])
	}
	return tenants, nil
}
