// Package cleanup enforces the retention policies: short-lived
// webhook events for replay/dedupe, a bounded audit window for messages
// after their conversation is resolved, and a purge of dead letters an
// operator has already redriven or redacted.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatbridge-hq/chatbridge/pkg/config"
)

// Service periodically sweeps expired WebhookEvent rows, audit-window-expired
// Messages, and already-actioned DeadLetter rows. All operations are
// idempotent and safe to run from multiple pods concurrently.
type Service struct {
	pool *pgxpool.Pool
	cfg  *config.RetentionConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(pool *pgxpool.Pool, cfg *config.RetentionConfig) *Service {
	return &Service{pool: pool, cfg: cfg}
}

// Start launches the background cleanup loop. A second call is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"webhook_event_ttl", s.cfg.WebhookEventTTL,
		"message_audit_window_days", s.cfg.MessageAuditWindowDays,
		"dead_letter_retention_days", s.cfg.DeadLetterRetentionDays,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeExpiredWebhookEvents(ctx)
	s.purgeAuditExpiredMessages(ctx)
	s.purgeActionedDeadLetters(ctx)
}

// purgeExpiredWebhookEvents removes WebhookEvent rows past the 24-72h
// retention window; they exist only for replay-dedupe
// and carry no value once expired.
func (s *Service) purgeExpiredWebhookEvents(ctx context.Context) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_events WHERE received_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(s.cfg.WebhookEventTTL.Seconds())))
	if err != nil {
		slog.Error("retention: webhook_events purge failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("retention: purged expired webhook events", "count", n)
	}
}

// purgeAuditExpiredMessages hard-deletes messages belonging to resolved
// conversations once they have sat past the audit retention window.
func (s *Service) purgeAuditExpiredMessages(ctx context.Context) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM messages
		 WHERE conversation_id IN (
		     SELECT id FROM conversations WHERE stage = 'resolved'
		       AND updated_at < now() - $1::interval
		 )`,
		fmt.Sprintf("%d days", s.cfg.MessageAuditWindowDays))
	if err != nil {
		slog.Error("retention: message audit-window purge failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("retention: purged audit-expired messages", "count", n)
	}
}

// purgeActionedDeadLetters removes dead letters an operator has already
// redriven or redacted, once they age past the configured retention.
func (s *Service) purgeActionedDeadLetters(ctx context.Context) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dead_letters
		 WHERE (redriven_at IS NOT NULL OR redacted_at IS NOT NULL)
		   AND created_at < now() - $1::interval`,
		fmt.Sprintf("%d days", s.cfg.DeadLetterRetentionDays))
	if err != nil {
		slog.Error("retention: dead letter purge failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("retention: purged actioned dead letters", "count", n)
	}
}
