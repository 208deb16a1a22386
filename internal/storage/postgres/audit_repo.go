package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/domain"
)

// AuditRepository implements auditlog.Store with PostgreSQL.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single audit entry. This is the only write method;
// immutability is enforced at the interface level.
func (r *AuditRepository) Append(ctx context.Context, e *domain.AuditEntry) error {
	model := toAuditModel(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Query returns audit entries for a tenant, newest first. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, tenantID uuid.UUID, f auditlog.Filter) ([]*domain.AuditEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC").
		Limit(limit)

	if f.Operation != "" {
		q = q.Where("operation = ?", f.Operation)
	}
	if f.PrincipalID != "" {
		q = q.Where("principal_id = ?", f.PrincipalID)
	}
	if f.Success != nil {
		q = q.Where("success = ?", *f.Success)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until)
	}

	var models []AuditEntryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}

	entries := make([]*domain.AuditEntry, len(models))
	for i := range models {
		entries[i] = toAuditDomain(&models[i])
	}
	return entries, nil
}
