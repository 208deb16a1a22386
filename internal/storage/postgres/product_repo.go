package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

// ProductRepository implements orchestrator.ProductStore with PostgreSQL.
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a ProductRepository.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Upsert inserts or replaces a product keyed on (product_id, tenant_id).
func (r *ProductRepository) Upsert(ctx context.Context, p *domain.Product) error {
	model := toProductModel(p)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ProductID, err)
	}
	return nil
}

func (r *ProductRepository) ByID(ctx context.Context, tenantID uuid.UUID, productID string) (*domain.Product, error) {
	var model ProductModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.KindNotFound, "product %q not found", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading product %q: %w", productID, err)
	}
	return toProductDomain(&model), nil
}

func (r *ProductRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Product, error) {
	var models []ProductModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("product_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products := make([]*domain.Product, len(models))
	for i := range models {
		products[i] = toProductDomain(&models[i])
	}
	return products, nil
}
