package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownTenant is returned when a platform account id does not
// resolve to any tenant.
var ErrUnknownTenant = errors.New("UNKNOWN_TENANT")

// Context is the scoped capability produced by Resolve. It binds a
// single tenant id to the connection acquired for the current logical
// request and MUST be released on every exit path, including errors —
// Release is idempotent and safe to call from a defer immediately
// after Resolve succeeds.
type Context struct {
	TenantID  string
	AdminMode bool

	conn     *pgxpool.Conn
	tx       pgx.Tx
	released bool
}

// Tx exposes the underlying transaction, scoped with
// `SET LOCAL app.current_tenant`, for repository calls that need to
// rely on row-level policy enforcement rather than an explicit WHERE
// clause.
func (c *Context) Tx() pgx.Tx {
	return c.tx
}

// Commit commits the underlying transaction. The connection is still
// released by a subsequent (or deferred) call to Release.
func (c *Context) Commit(ctx context.Context) error {
	return c.tx.Commit(ctx)
}

// Release rolls back any uncommitted work and returns the connection
// to the pool. No background task may retain a reference to a
// released Context; it is not safe to reuse a Context after Release.
func (c *Context) Release(ctx context.Context) {
	if c.released {
		return
	}
	c.released = true
	_ = c.tx.Rollback(ctx) // no-op if already committed
	c.conn.Release()
}

// bindConnection acquires a pool connection, opens a transaction, and
// sets the per-connection tenant id that the row policy
// `row.tenant_id = current_tenant OR admin_mode` checks against.
func bindConnection(ctx context.Context, pool *pgxpool.Pool, tenantID string, adminMode bool) (*Context, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID); err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, fmt.Errorf("bind tenant context: %w", err)
	}
	if adminMode {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.admin_mode', 'on', true)"); err != nil {
			_ = tx.Rollback(ctx)
			conn.Release()
			return nil, fmt.Errorf("bind admin mode: %w", err)
		}
	}

	return &Context{
		TenantID:  tenantID,
		AdminMode: adminMode,
		conn:      conn,
		tx:        tx,
	}, nil
}
