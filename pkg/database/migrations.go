package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateGINIndexes creates full-text search GIN indexes used by
// operator tooling to search conversation history. They are applied
// separately from the versioned migrations because CONCURRENTLY
// cannot run inside the transaction golang-migrate wraps each step in.
func CreateGINIndexes(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_messages_content_gin
		ON messages USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("failed to create messages content GIN index: %w", err)
	}

	_, err = pool.Exec(ctx,
		`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_audit_log_target_gin
		ON audit_log USING gin(to_tsvector('english', target))`)
	if err != nil {
		return fmt.Errorf("failed to create audit_log target GIN index: %w", err)
	}

	return nil
}
