package delivery

import (
	"context"
	"fmt"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// Repository persists DeliveryLog rows, one per send attempt.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Record(ctx context.Context, tc *tenant.Context, log *models.DeliveryLog) error {
	_, err := tc.Tx().Exec(ctx,
		`INSERT INTO delivery_logs (tenant_id, job_id, conversation_id, message_id, channel, outcome,
		                            upstream_message_id, attempt_number, latency_ms, error_class)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''))`,
		tc.TenantID, log.JobID, log.ConversationID, log.MessageID, string(log.Channel), string(log.Outcome),
		log.UpstreamMsgID, log.AttemptNumber, log.LatencyMs, log.ErrorClass)
	if err != nil {
		return fmt.Errorf("record delivery log: %w", err)
	}
	return nil
}
