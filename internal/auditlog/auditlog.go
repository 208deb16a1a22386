// Package auditlog records an immutable entry for every operation attempt.
// The trail is append-only: the store contract exposes no update or delete,
// and a failed append degrades to a structured log line rather than failing
// the operation that triggered it.
package auditlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/admesh/salesagent/internal/domain"
)

// Filter narrows an audit query. Zero values match everything.
type Filter struct {
	Operation   string
	PrincipalID string
	Success     *bool
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Store is the persistence contract for the audit trail. Append-only by
// construction: there is no way to mutate or remove an entry through it.
type Store interface {
	Append(ctx context.Context, e *domain.AuditEntry) error
	Query(ctx context.Context, tenantID uuid.UUID, f Filter) ([]*domain.AuditEntry, error)
}

// Writer records audit entries.
type Writer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter creates a Writer. store may be nil, in which case every entry
// goes to the structured log only.
func NewWriter(store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record persists one audit entry. Persistence failure is logged and
// swallowed: the audit trail must never abort the operation it documents.
func (w *Writer) Record(ctx context.Context, tenantID uuid.UUID, principalID, operation string, success bool, detail map[string]any) {
	entry := &domain.AuditEntry{
		ID:          domain.NewID(),
		TenantID:    tenantID,
		PrincipalID: principalID,
		Operation:   operation,
		Success:     success,
		Detail:      detail,
		CreatedAt:   w.now(),
	}
	if w.store == nil {
		w.log(ctx, entry)
		return
	}
	if err := w.store.Append(ctx, entry); err != nil {
		w.logger.ErrorContext(ctx, "audit append failed, falling back to log",
			"error", err, "operation", operation, "tenant_id", tenantID)
		w.log(ctx, entry)
	}
}

// Query returns matching entries for a tenant, newest first.
func (w *Writer) Query(ctx context.Context, tenantID uuid.UUID, f Filter) ([]*domain.AuditEntry, error) {
	if w.store == nil {
		return nil, nil
	}
	return w.store.Query(ctx, tenantID, f)
}

func (w *Writer) log(ctx context.Context, e *domain.AuditEntry) {
	w.logger.InfoContext(ctx, "audit",
		"tenant_id", e.TenantID,
		"principal_id", e.PrincipalID,
		"operation", e.Operation,
		"success", e.Success,
		"detail", e.Detail,
	)
}
