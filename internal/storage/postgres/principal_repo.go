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

// PrincipalRepository implements auth.PrincipalStore with PostgreSQL.
type PrincipalRepository struct {
	db *gorm.DB
}

// NewPrincipalRepository creates a PrincipalRepository.
func NewPrincipalRepository(db *gorm.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

func (r *PrincipalRepository) Create(ctx context.Context, p *domain.Principal) error {
	model := toPrincipalModel(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.KindConflict, "access token for principal %q already registered", p.Name)
		}
		return fmt.Errorf("creating principal %q: %w", p.Name, err)
	}
	return nil
}

func (r *PrincipalRepository) Update(ctx context.Context, p *domain.Principal) error {
	model := toPrincipalModel(p)
	res := r.db.WithContext(ctx).Model(&PrincipalModel{}).
		Scopes(TenantScope(p.TenantID)).
		Where("id = ?", p.ID).
		Updates(model)
	if res.Error != nil {
		return fmt.Errorf("updating principal %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.KindNotFound, "principal %s not found", p.ID)
	}
	return nil
}

func (r *PrincipalRepository) ByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Principal, error) {
	var model PrincipalModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "principal %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading principal %s: %w", id, err)
	}
	return toPrincipalDomain(&model), nil
}

// ByToken looks up a principal across all tenants. Tokens are globally unique.
func (r *PrincipalRepository) ByToken(ctx context.Context, token string) (*domain.Principal, error) {
	var model PrincipalModel
	err := r.db.WithContext(ctx).First(&model, "access_token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "principal not found")
	}
	if err != nil {
		return nil, fmt.Errorf("looking up principal by token: %w", err)
	}
	return toPrincipalDomain(&model), nil
}

func (r *PrincipalRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Principal, error) {
	var models []PrincipalModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}
	principals := make([]*domain.Principal, len(models))
	for i := range models {
		principals[i] = toPrincipalDomain(&models[i])
	}
	return principals, nil
}
