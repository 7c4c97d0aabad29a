package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

// Repository queries tenants and credentials directly against the
// pool (outside any bound Context) since resolving a tenant id is, by
// definition, the step that precedes having one.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TenantIDForAccount looks up the owning tenant for a platform account
// id. Returns ErrUnknownTenant if no active credential matches.
func (r *Repository) TenantIDForAccount(ctx context.Context, platform models.Platform, accountID string) (string, error) {
	var tenantID string
	err := r.pool.QueryRow(ctx,
		`SELECT tenant_id FROM credentials
		 WHERE platform = $1 AND platform_account_id = $2 AND active
		 LIMIT 1`,
		string(platform), accountID,
	).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnknownTenant
	}
	if err != nil {
		return "", fmt.Errorf("lookup tenant for account: %w", err)
	}
	return tenantID, nil
}

// Get loads a tenant by id.
func (r *Repository) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var t models.Tenant
	var aiConfigRaw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, display_name, status, ai_config, created_at, updated_at
		 FROM tenants WHERE id = $1`, tenantID,
	).Scan(&t.ID, &t.DisplayName, &t.Status, &aiConfigRaw, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if len(aiConfigRaw) > 0 {
		if err := json.Unmarshal(aiConfigRaw, &t.AIConfig); err != nil {
			return nil, fmt.Errorf("decode tenant ai_config: %w", err)
		}
	}
	return &t, nil
}

// CredentialFor loads the active credential for a tenant+platform,
// leaving the token encrypted — callers decrypt via pkg/crypto only
// at the point of use.
func (r *Repository) CredentialFor(ctx context.Context, tenantID string, platform models.Platform) (*models.Credential, error) {
	var c models.Credential
	err := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, platform, platform_account_id, encrypted_token,
		        refresh_metadata, active, expires_at, created_at, updated_at
		 FROM credentials
		 WHERE tenant_id = $1 AND platform = $2 AND active
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, string(platform),
	).Scan(&c.ID, &c.TenantID, &c.Platform, &c.PlatformAccountID, &c.EncryptedToken,
		&c.RefreshMetadata, &c.Active, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no active credential for tenant %s platform %s", tenantID, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return &c, nil
}

// expiringSoon reports whether a credential needs refresh within the
// given lead time. Nothing in the module calls it; the ManyChat and
// Graph send paths do not refresh credentials proactively.
func expiringSoon(c *models.Credential, lead time.Duration) bool {
	return c.ExpiresAt != nil && time.Now().Add(lead).After(*c.ExpiresAt)
}
