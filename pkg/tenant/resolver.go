// Package tenant implements the Tenant Resolver: mapping a platform
// account id to a tenant id with short positive/negative in-process
// caching, and producing the scoped per-request Context that every
// downstream storage call binds to.
package tenant

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

const (
	defaultPositiveTTL = 60 * time.Second
	defaultNegativeTTL = 10 * time.Second
)

// Resolver resolves platform account ids to tenant ids and mints
// scoped Contexts.
type Resolver struct {
	repo  *Repository
	pool  *pgxpool.Pool
	cache *lookupCache
}

// New constructs a Resolver backed by pool, using short lookup
// TTLs (positive ≤60s, negative ≤10s) to resist both staleness and
// enumeration.
func New(pool *pgxpool.Pool) *Resolver {
	return &Resolver{
		repo:  NewRepository(pool),
		pool:  pool,
		cache: newLookupCache(defaultPositiveTTL, defaultNegativeTTL),
	}
}

// Resolve maps a platform account id to a bound tenant Context. The
// caller MUST defer Release immediately on success.
func (r *Resolver) Resolve(ctx context.Context, platform models.Platform, accountID string) (*Context, error) {
	platform = models.NormalizePlatform(string(platform))

	if tenantID, found := r.cache.get(string(platform), accountID); found {
		if tenantID == "" {
			return nil, ErrUnknownTenant
		}
		return bindConnection(ctx, r.pool, tenantID, false)
	}

	tenantID, err := r.repo.TenantIDForAccount(ctx, platform, accountID)
	if err != nil {
		r.cache.setNegative(string(platform), accountID)
		return nil, err
	}
	r.cache.setPositive(string(platform), accountID, tenantID)

	return bindConnection(ctx, r.pool, tenantID, false)
}

// Bind mints a non-admin Context for a tenant id already known to be
// correct, e.g. a job's tenant_id column, populated by the router at
// enqueue time. Unlike Resolve, it performs no account-id lookup.
func (r *Resolver) Bind(ctx context.Context, tenantID string) (*Context, error) {
	return bindConnection(ctx, r.pool, tenantID, false)
}

// ResolveAdmin mints an admin-mode Context for a known tenant id,
// bypassing the row policy's tenant-match clause. Used only by
// operator tooling (dead-letter inspection, redrive, redaction).
func (r *Resolver) ResolveAdmin(ctx context.Context, tenantID string) (*Context, error) {
	return bindConnection(ctx, r.pool, tenantID, true)
}

// Tenant loads the full tenant record for tenantID, for components
// that need the AI config or display name beyond the bare id.
func (r *Resolver) Tenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return r.repo.Get(ctx, tenantID)
}
