package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/admesh/salesagent/internal/domain"
)

// SignalRepository implements orchestrator.SignalStore with PostgreSQL.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository creates a SignalRepository.
func NewSignalRepository(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Upsert inserts or replaces a signal keyed on (signal_id, tenant_id).
func (r *SignalRepository) Upsert(ctx context.Context, tenantID uuid.UUID, s *domain.Signal) error {
	model := toSignalModel(tenantID, s)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signal_id"}, {Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("upserting signal %q: %w", s.SignalID, err)
	}
	return nil
}

// List returns signals matching an optional free-text query and type filter.
func (r *SignalRepository) List(ctx context.Context, tenantID uuid.UUID, query, signalType string) ([]*domain.Signal, error) {
	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("signal_id ASC")
	if signalType != "" {
		q = q.Where("type = ?", signalType)
	}
	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	var models []SignalModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	signals := make([]*domain.Signal, len(models))
	for i := range models {
		signals[i] = toSignalDomain(&models[i])
	}
	return signals, nil
}
