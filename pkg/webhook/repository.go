package webhook

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// Repository persists WebhookEvent rows under a bound tenant Context.
// Rows are short-lived (see pkg/cleanup's webhook_events sweep) and
// exist only to support idempotency dedupe and operator forensics; the
// webhook handler records accepted interactions only, not rejected or
// malformed deliveries.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Record inserts a WebhookEvent, keyed by (tenant, platform,
// platform_event_id) per the unique index backing replay-dedupe.
// ev.ID is the platform-supplied event id (or derived digest); it is
// stored as platform_event_id, the table's own row id is synthetic and
// not surfaced to callers.
func (r *Repository) Record(ctx context.Context, tc *tenant.Context, ev *models.WebhookEvent) error {
	_, err := tc.Tx().Exec(ctx,
		`INSERT INTO webhook_events (tenant_id, platform, platform_event_id, received_at, status, raw_body_digest)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, platform, platform_event_id) DO UPDATE SET status = EXCLUDED.status`,
		tc.TenantID, string(ev.Platform), ev.ID, ev.ReceivedAt, string(ev.Status), ev.RawBodyDigest)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

// UpdateStatus transitions a recorded WebhookEvent to a terminal
// status (accepted, rejected, processed).
func (r *Repository) UpdateStatus(ctx context.Context, tc *tenant.Context, platform models.Platform, eventID string, status models.WebhookEventStatus) error {
	tag, err := tc.Tx().Exec(ctx,
		`UPDATE webhook_events SET status = $1 WHERE tenant_id = $2 AND platform = $3 AND platform_event_id = $4`,
		string(status), tc.TenantID, string(platform), eventID)
	if err != nil {
		return fmt.Errorf("update webhook event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
