package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

// Store is the durable job queue's persistence layer. It operates in
// admin mode against the pool directly: claiming work spans tenants by
// definition, so the usual per-request tenant binding does not apply
// here.
type Store struct {
	pool *pgxpool.Pool
	cfg  *config.QueueConfig
}

func NewStore(pool *pgxpool.Pool, cfg *config.QueueConfig) *Store {
	return &Store{pool: pool, cfg: cfg}
}

// Enqueue inserts a new job, defaulting NextAttemptAt to now.
func (s *Store) Enqueue(ctx context.Context, tenantID string, jobType models.JobType, payload any, priority models.Priority, deadline *time.Time) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	var id string
	err = s.withAdmin(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO jobs (tenant_id, type, payload, priority, status, next_attempt_at, deadline)
			 VALUES ($1, $2, $3, $4, 'pending', now(), $5)
			 RETURNING id`,
			tenantID, string(jobType), raw, string(priority), deadline,
		).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// priorityCaseSQL orders {urgent,high,normal,low} highest-first, then
// FIFO by next_attempt_at within a priority tier.
const priorityCaseSQL = `CASE priority
	WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

// Claim atomically claims the next eligible job for workerID, skipping
// tenants already at their per-tenant concurrency cap and rows locked
// by other workers.
func (s *Store) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	var job models.Job
	err := s.withAdmin(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND next_attempt_at <= now()
			  AND tenant_id NOT IN (
			      SELECT tenant_id FROM jobs
			      WHERE status = 'in_flight'
			      GROUP BY tenant_id
			      HAVING count(*) >= $1
			  )
			ORDER BY %s, next_attempt_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, priorityCaseSQL),
			s.cfg.PerTenantConcurrency)

		var id string
		if err := row.Scan(&id); err != nil {
			return err
		}

		visibleAt := time.Now().Add(s.cfg.VisibilityTimeout)
		return tx.QueryRow(ctx, `
			UPDATE jobs SET status = 'in_flight', claimed_by = $1, visible_at = $2, updated_at = now()
			WHERE id = $3
			RETURNING id, tenant_id, type, payload, priority, attempt_count, next_attempt_at,
			          status, deadline, last_error, claimed_by, visible_at, created_at, updated_at`,
			workerID, visibleAt, id,
		).Scan(&job.ID, &job.TenantID, &job.Type, &job.Payload, &job.Priority, &job.AttemptCount,
			&job.NextAttemptAt, &job.Status, &job.Deadline, &job.LastError, &job.ClaimedBy,
			&job.VisibleAt, &job.CreatedAt, &job.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// Heartbeat refreshes a claimed job's visibility deadline, signaling
// liveness to orphan detection.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	visibleAt := time.Now().Add(s.cfg.VisibilityTimeout)
	return s.withAdmin(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE jobs SET visible_at = $1 WHERE id = $2 AND status = 'in_flight'`, visibleAt, jobID)
		return err
	})
}

// Succeed marks a job as succeeded.
func (s *Store) Succeed(ctx context.Context, jobID string) error {
	return s.withAdmin(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE jobs SET status = 'succeeded', updated_at = now() WHERE id = $1`, jobID)
		return err
	})
}

// Fail records a failed attempt, scheduling the next retry with
// exponential backoff and jitter, or dead-lettering if attempts are
// exhausted per the type's maximum.
// Fail records a job attempt's failure. It returns wentDead=true when
// the job was transitioned to 'dead' for operator replay (attempts
// exhausted or the caller forced immediate dead-lettering), so the
// worker loop knows to notify operators.
func (s *Store) Fail(ctx context.Context, job *models.Job, cause error, permanent bool) (wentDead bool, err error) {
	attempt := job.AttemptCount + 1
	maxAttempts := config.MaxAttemptsForType(string(job.Type))

	if permanent || attempt >= maxAttempts {
		return true, s.deadLetter(ctx, job, cause, attempt)
	}

	delay := backoffDelay(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, attempt)
	nextAttempt := time.Now().Add(delay)

	return false, s.withAdmin(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'pending', attempt_count = $1, next_attempt_at = $2,
			                 last_error = $3, claimed_by = NULL, visible_at = NULL, updated_at = now()
			 WHERE id = $4`,
			attempt, nextAttempt, cause.Error(), job.ID)
		return err
	})
}

// backoffDelay computes next_attempt_at = min(max, base*2^attempt) * (1 ± 0.1).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<attempt)
	if d > max || d <= 0 {
		d = max
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(d) * jitter)
}

// deadLetter transitions a job to dead and records it for replay.
func (s *Store) deadLetter(ctx context.Context, job *models.Job, cause error, attempt int) error {
	return s.withAdmin(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'dead', attempt_count = $1, last_error = $2, updated_at = now() WHERE id = $3`,
			attempt, cause.Error(), job.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO dead_letters (job_id, tenant_id, job_type, payload, last_error, attempt_count)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			job.ID, job.TenantID, string(job.Type), job.Payload, cause.Error(), attempt)
		return err
	})
}

// CancelOnDeadline marks in-flight jobs whose soft deadline has
// passed as cancelled, so a worker's cooperative check can observe it.
func (s *Store) CancelOnDeadline(ctx context.Context) (int, error) {
	var n int
	err := s.withAdmin(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'failed', last_error = 'CANCELLED_DEADLINE', updated_at = now()
			 WHERE status = 'in_flight' AND deadline IS NOT NULL AND deadline < now()`)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

// RecoverOrphans resets jobs whose visibility deadline lapsed without
// a heartbeat back to pending, making them claimable again
// (at-least-once delivery).
func (s *Store) RecoverOrphans(ctx context.Context) (int, error) {
	var n int
	err := s.withAdmin(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'pending', claimed_by = NULL, visible_at = NULL, updated_at = now()
			 WHERE status = 'in_flight' AND visible_at IS NOT NULL AND visible_at < now()`)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

// QueueDepth returns the count of pending jobs.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.withAdmin(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE status = 'pending'`).Scan(&n)
	})
	return n, err
}

// QueueDepthByType returns the count of pending jobs broken down by
// job type, for the per-type queue_depth gauge.
func (s *Store) QueueDepthByType(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	err := s.withAdmin(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT type, count(*) FROM jobs WHERE status = 'pending' GROUP BY type`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var jobType string
			var n int
			if err := rows.Scan(&jobType, &n); err != nil {
				return err
			}
			out[jobType] = n
		}
		return rows.Err()
	})
	return out, err
}

// InFlightCount returns the count of in_flight jobs claimed by workerID's pod.
func (s *Store) InFlightCount(ctx context.Context, claimedByPrefix string) (int, error) {
	var n int
	err := s.withAdmin(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT count(*) FROM jobs WHERE status = 'in_flight' AND claimed_by LIKE $1`,
			claimedByPrefix+"%").Scan(&n)
	})
	return n, err
}

// withAdmin runs fn inside a transaction with admin_mode set, bypassing
// the row policy's tenant-match clause since queue operations are
// inherently cross-tenant.
func (s *Store) withAdmin(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT set_config('app.admin_mode', 'on', true)"); err != nil {
		return fmt.Errorf("set admin mode: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
