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

// MediaBuyRepository implements orchestrator.MediaBuyStore with PostgreSQL.
type MediaBuyRepository struct {
	db *gorm.DB
}

// NewMediaBuyRepository creates a MediaBuyRepository.
func NewMediaBuyRepository(db *gorm.DB) *MediaBuyRepository {
	return &MediaBuyRepository{db: db}
}

func (r *MediaBuyRepository) Create(ctx context.Context, b *domain.MediaBuy) error {
	model := toMediaBuyModel(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating media buy %q: %w", b.MediaBuyID, err)
	}
	return nil
}

// Update persists the full record. Save (not Updates) so zero values like a
// cleared LastError are written back.
func (r *MediaBuyRepository) Update(ctx context.Context, b *domain.MediaBuy) error {
	model := toMediaBuyModel(b)
	res := r.db.WithContext(ctx).Model(&MediaBuyModel{}).
		Scopes(TenantScope(b.TenantID)).
		Where("media_buy_id = ?", b.MediaBuyID).
		Select("*").
		Omit("media_buy_id", "tenant_id", "created_at").
		Updates(model)
	if res.Error != nil {
		return fmt.Errorf("updating media buy %q: %w", b.MediaBuyID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.KindNotFound, "media buy %q not found", b.MediaBuyID)
	}
	return nil
}

func (r *MediaBuyRepository) ByID(ctx context.Context, tenantID uuid.UUID, mediaBuyID string) (*domain.MediaBuy, error) {
	var model MediaBuyModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model, "media_buy_id = ?", mediaBuyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "media buy %q not found", mediaBuyID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading media buy %q: %w", mediaBuyID, err)
	}
	return toMediaBuyDomain(&model), nil
}

func (r *MediaBuyRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, states ...domain.MediaBuyState) ([]*domain.MediaBuy, error) {
	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC")
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, s := range states {
			names[i] = string(s)
		}
		q = q.Where("state IN ?", names)
	}
	var models []MediaBuyModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing media buys: %w", err)
	}
	buys := make([]*domain.MediaBuy, len(models))
	for i := range models {
		buys[i] = toMediaBuyDomain(&models[i])
	}
	return buys, nil
}
