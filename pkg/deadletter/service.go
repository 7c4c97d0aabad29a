// Package deadletter implements Dead-Letter & Replay: operator
// inspection, redrive, and redaction of jobs that exhausted the job
// queue's retry budget.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatbridge-hq/chatbridge/pkg/audit"
	"github.com/chatbridge-hq/chatbridge/pkg/idempotency"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/slack"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// ErrNotFound indicates no dead letter matched the requested id
// within the bound tenant scope.
var ErrNotFound = errors.New("dead letter not found")

// ErrAlreadyActioned indicates a redrive or redact was attempted on a
// dead letter that was already redriven or redacted.
var ErrAlreadyActioned = errors.New("dead letter already actioned")

// Service implements the operator-facing dead-letter operations. It always
// runs under an admin-mode tenant Context, which each method mints
// itself through the resolver's ResolveAdmin.
type Service struct {
	resolver   *tenant.Resolver
	queueStore *queue.Store
	idemStore  *idempotency.Store
	notifier   *slack.Service
	audit      *audit.Recorder
}

func NewService(resolver *tenant.Resolver, queueStore *queue.Store, idemStore *idempotency.Store, notifier *slack.Service, recorder *audit.Recorder) *Service {
	return &Service{resolver: resolver, queueStore: queueStore, idemStore: idemStore, notifier: notifier, audit: recorder}
}

// Inspect returns the full DeadLetter row for tenantID+id.
func (s *Service) Inspect(ctx context.Context, tenantID, id string) (*models.DeadLetter, error) {
	tc, err := s.resolver.ResolveAdmin(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("bind admin tenant: %w", err)
	}
	defer tc.Release(ctx)

	dl, err := s.load(ctx, tc, id)
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// Redrive resets a dead letter's attempt_count and re-enqueues it as
// a pending job at overridePriority, or at PriorityNormal when that is
// nil; the original job's priority is not kept. tenant_id is preserved
// from the original job.
func (s *Service) Redrive(ctx context.Context, actorID, tenantID, id string, overridePriority *models.Priority) (newJobID string, err error) {
	tc, err := s.resolver.ResolveAdmin(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("bind admin tenant: %w", err)
	}
	defer tc.Release(ctx)

	dl, err := s.load(ctx, tc, id)
	if err != nil {
		return "", err
	}
	if dl.RedrivenAt != nil || dl.RedactedAt != nil {
		return "", ErrAlreadyActioned
	}

	priority := models.PriorityNormal
	if overridePriority != nil {
		priority = *overridePriority
	}

	var payload json.RawMessage = dl.Payload
	newJobID, err = s.queueStore.Enqueue(ctx, dl.TenantID, dl.JobType, payload, priority, nil)
	if err != nil {
		return "", fmt.Errorf("re-enqueue dead letter: %w", err)
	}

	// Claims a fresh redrive:<new job id> key. The redriven job's
	// handler claims its own keys (deliver_outbound claims
	// deliver:<candidate message id>), which this does not reset: a
	// claim with a recorded outcome stays a duplicate, and one without
	// is let through again once claimGrace has passed since it was made.
	if _, err := s.idemStore.Claim(ctx, "redrive:"+newJobID); err != nil {
		return "", fmt.Errorf("claim redrive idempotency key: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tc.Tx().Exec(ctx,
		`UPDATE dead_letters SET redriven_at = $1 WHERE id = $2 AND tenant_id = $3`,
		now, id, tenantID); err != nil {
		return "", fmt.Errorf("mark dead letter redriven: %w", err)
	}

	if err := s.audit.Record(ctx, tc, actorID, "dead_letter.redrive", "dead_letter:"+id,
		"", audit.Digest([]byte(newJobID))); err != nil {
		return "", err
	}

	return newJobID, tc.Commit(ctx)
}

// RedactAndDiscard permanently marks a dead letter as redacted,
// leaving the row (for audit trail) but never eligible for redrive.
func (s *Service) RedactAndDiscard(ctx context.Context, actorID, tenantID, id string) error {
	tc, err := s.resolver.ResolveAdmin(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("bind admin tenant: %w", err)
	}
	defer tc.Release(ctx)

	dl, err := s.load(ctx, tc, id)
	if err != nil {
		return err
	}
	if dl.RedrivenAt != nil || dl.RedactedAt != nil {
		return ErrAlreadyActioned
	}

	now := time.Now().UTC()
	if _, err := tc.Tx().Exec(ctx,
		`UPDATE dead_letters SET redacted_at = $1, payload = '{}'::jsonb WHERE id = $2 AND tenant_id = $3`,
		now, id, tenantID); err != nil {
		return fmt.Errorf("mark dead letter redacted: %w", err)
	}

	if err := s.audit.Record(ctx, tc, actorID, "dead_letter.redact", "dead_letter:"+id, "", ""); err != nil {
		return err
	}

	return tc.Commit(ctx)
}

func (s *Service) load(ctx context.Context, tc *tenant.Context, id string) (*models.DeadLetter, error) {
	var dl models.DeadLetter
	err := tc.Tx().QueryRow(ctx,
		`SELECT id, job_id, tenant_id, job_type, payload, last_error, attempt_count,
		        created_at, redriven_at, redacted_at
		 FROM dead_letters WHERE id = $1 AND tenant_id = $2`,
		id, tc.TenantID,
	).Scan(&dl.ID, &dl.JobID, &dl.TenantID, &dl.JobType, &dl.Payload, &dl.LastError, &dl.AttemptCount,
		&dl.CreatedAt, &dl.RedrivenAt, &dl.RedactedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dead letter: %w", err)
	}
	return &dl, nil
}
