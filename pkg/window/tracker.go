// Package window implements the Message-Window Tracker: the
// rolling 24h reply window per (tenant, customer), cached in Redis
// for low-latency reads and write-through to Postgres in the same
// transaction as message append.
package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

const keyPrefix = "window:"

// Tracker reports whether a send to a customer currently falls inside
// the reply window.
type Tracker struct {
	rdb    *redis.Client
	window time.Duration
	grace  time.Duration
}

// New constructs a Tracker. window is the reply-window duration
// (default 24h); grace extends the effective window (default 5m) to
// absorb clock skew between the inbound timestamp and the send
// attempt.
func New(rdb *redis.Client, window, grace time.Duration) *Tracker {
	return &Tracker{rdb: rdb, window: window, grace: grace}
}

func redisKey(tenantID, customerRef string) string {
	return keyPrefix + tenantID + ":" + customerRef
}

// RecordInbound marks the current time as the last inbound message
// for (tenantID, customerRef), in Postgres (authoritative, under the
// bound tenant Context's transaction) and Redis (cache).
func (t *Tracker) RecordInbound(ctx context.Context, tc *tenant.Context, customerRef string) error {
	now := time.Now().UTC()

	if _, err := tc.Tx().Exec(ctx,
		`INSERT INTO window_states (tenant_id, customer_ref, last_inbound_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, customer_ref) DO UPDATE SET last_inbound_at = $3`,
		tc.TenantID, customerRef, now); err != nil {
		return fmt.Errorf("persist window state: %w", err)
	}

	if err := t.rdb.Set(ctx, redisKey(tc.TenantID, customerRef), now.Format(time.RFC3339Nano), t.window+t.grace).Err(); err != nil {
		return fmt.Errorf("cache window state: %w", err)
	}
	return nil
}

// InWindow reports whether a send to (tenantID, customerRef) is
// currently inside the reply window. On a Redis miss it falls back to
// Postgres via tc, keeping the check correct even when the cache is
// cold.
func (t *Tracker) InWindow(ctx context.Context, tc *tenant.Context, customerRef string) (bool, error) {
	if cached, err := t.rdb.Get(ctx, redisKey(tc.TenantID, customerRef)).Result(); err == nil {
		lastInbound, parseErr := time.Parse(time.RFC3339Nano, cached)
		if parseErr == nil {
			return time.Since(lastInbound) <= t.window+t.grace, nil
		}
	}

	var lastInbound time.Time
	err := tc.Tx().QueryRow(ctx,
		`SELECT last_inbound_at FROM window_states WHERE tenant_id = $1 AND customer_ref = $2`,
		tc.TenantID, customerRef).Scan(&lastInbound)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // no prior inbound message: outside window
	}
	if err != nil {
		return false, fmt.Errorf("load window state: %w", err)
	}
	return time.Since(lastInbound) <= t.window+t.grace, nil
}
