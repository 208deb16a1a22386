// Package auth resolves the opaque x-adcp-auth token presented on every tool
// call into a (Tenant, Principal) identity pair. Resolution is stateless: each
// call hits storage, so token revocation takes effect immediately.
package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

// TenantStore is the persistence contract for tenants. Implemented by the
// storage backends.
type TenantStore interface {
	Create(ctx context.Context, t *domain.Tenant) error
	Update(ctx context.Context, t *domain.Tenant) error
	ByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	BySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error)
	List(ctx context.Context, enabledOnly bool) ([]*domain.Tenant, error)
}

// PrincipalStore is the persistence contract for principals.
type PrincipalStore interface {
	Create(ctx context.Context, p *domain.Principal) error
	Update(ctx context.Context, p *domain.Principal) error
	ByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Principal, error)
	ByToken(ctx context.Context, token string) (*domain.Principal, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Principal, error)
}

// Resolver maps access tokens to identities.
type Resolver struct {
	tenants    TenantStore
	principals PrincipalStore
	logger     *slog.Logger
}

// NewResolver creates a Resolver backed by the given stores.
func NewResolver(tenants TenantStore, principals PrincipalStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tenants: tenants, principals: principals, logger: logger}
}

// Resolve authenticates the token and returns the owning tenant and principal.
// tenantHint, when non-empty, must match the resolved tenant's subdomain or ID;
// a mismatch is reported as tenant_mismatch, not unauthenticated, so a caller
// pointed at the wrong tenant gets a correctable error.
//
// All other failure modes collapse to unauthenticated so the error reveals
// nothing about which tokens exist.
func (r *Resolver) Resolve(ctx context.Context, token, tenantHint string) (*domain.Tenant, *domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, errs.New(errs.KindUnauthenticated, "missing x-adcp-auth token")
	}

	principal, err := r.principals.ByToken(ctx, token)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil, nil, errs.New(errs.KindUnauthenticated, "invalid token")
		}
		return nil, nil, errs.Wrap(errs.KindInternal, err, "resolving principal")
	}
	if !principal.Enabled {
		r.logger.WarnContext(ctx, "disabled principal presented a valid token",
			"principal_id", principal.ID, "tenant_id", principal.TenantID)
		return nil, nil, errs.New(errs.KindUnauthenticated, "invalid token")
	}

	tenant, err := r.tenants.ByID(ctx, principal.TenantID)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindInternal, err, "resolving tenant %s", principal.TenantID)
	}
	if !tenant.Enabled {
		return nil, nil, errs.New(errs.KindUnauthenticated, "invalid token")
	}

	if tenantHint != "" && !matchesTenant(tenant, tenantHint) {
		return nil, nil, errs.New(errs.KindTenantMismatch,
			"token does not belong to tenant %q", tenantHint)
	}
	return tenant, principal, nil
}

func matchesTenant(t *domain.Tenant, hint string) bool {
	return strings.EqualFold(hint, t.Subdomain) || strings.EqualFold(hint, t.ID.String())
}
