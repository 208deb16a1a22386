package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/admesh/salesagent/internal/errs"
	"github.com/admesh/salesagent/internal/notification"
)

// EndpointRepository implements notification.EndpointStore with PostgreSQL.
type EndpointRepository struct {
	db *gorm.DB
}

// NewEndpointRepository creates an EndpointRepository.
func NewEndpointRepository(db *gorm.DB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

func (r *EndpointRepository) Create(ctx context.Context, e *notification.Endpoint) error {
	model := toEndpointModel(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("creating notification endpoint %q: %w", e.Name, err)
	}
	return nil
}

func (r *EndpointRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Delete(&NotificationEndpointModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting notification endpoint %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.KindNotFound, "notification endpoint %s not found", id)
	}
	return nil
}

func (r *EndpointRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*notification.Endpoint, error) {
	var models []NotificationEndpointModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing notification endpoints: %w", err)
	}
	endpoints := make([]*notification.Endpoint, len(models))
	for i := range models {
		endpoints[i] = toEndpointDomain(&models[i])
	}
	return endpoints, nil
}
