// Package audit implements the tamper-evident audit trail of the
// Telemetry & Audit component: an append-only log of
// administrative and policy-relevant actions (credential rotation,
// tenant suspension, manual redrive, template approval) with actor
// id, target, and a before/after digest.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// Recorder appends entries to audit_log under the caller's bound
// tenant Context, so every write is subject to the same row-level
// isolation as the rest of the tenant-scoped schema.
type Recorder struct{}

// NewRecorder constructs a Recorder. It is stateless; it exists as a
// type so callers inject it like every other collaborator instead of
// calling a package-level function.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Digest hashes an arbitrary before/after value (typically a JSON
// encoding of the affected row) for the audit entry's before/after
// columns. It is not reversible; the point is tamper-evidence, not
// storage of the value itself.
func Digest(v []byte) string {
	sum := sha256.Sum256(v)
	return hex.EncodeToString(sum[:])
}

// Record appends a single audit entry. actorID identifies the
// operator or service account that performed the action; target
// names the affected entity (e.g. "dead_letter:<id>",
// "credential:<id>"); beforeDigest/afterDigest may be empty when not
// applicable (e.g. a redrive has no "after" state beyond the action
// itself).
func (r *Recorder) Record(ctx context.Context, tc *tenant.Context, actorID, action, target, beforeDigest, afterDigest string) error {
	_, err := tc.Tx().Exec(ctx,
		`INSERT INTO audit_log (tenant_id, actor_id, action, target, before_digest, after_digest)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tc.TenantID, actorID, action, target, nullIfEmpty(beforeDigest), nullIfEmpty(afterDigest))
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
