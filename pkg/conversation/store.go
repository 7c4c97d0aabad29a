// Package conversation implements the Conversation Store:
// conversation and message persistence with tenant isolation, message
// idempotency keyed on platform message id, and monotonic stage
// transitions.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// ErrStageDowngrade is returned when an update_stage call would move
// a conversation backwards outside the support path.
var ErrStageDowngrade = errors.New("stage downgrade rejected outside support path")

// Store persists conversations and messages under a bound tenant
// Context.
type Store struct{}

func New() *Store {
	return &Store{}
}

// FindOrCreate returns the conversation for (tenant, platform,
// customerRef), creating it in StageGreeting if absent.
func (s *Store) FindOrCreate(ctx context.Context, tc *tenant.Context, platform models.Platform, customerRef string) (*models.Conversation, error) {
	platform = models.NormalizePlatform(string(platform))

	var c models.Conversation
	err := tc.Tx().QueryRow(ctx,
		`SELECT id, tenant_id, platform, customer_ref, stage,
		        last_customer_message_at, last_outbound_at, created_at, updated_at
		 FROM conversations
		 WHERE tenant_id = $1 AND platform = $2 AND customer_ref = $3`,
		tc.TenantID, string(platform), customerRef,
	).Scan(&c.ID, &c.TenantID, &c.Platform, &c.CustomerRef, &c.Stage,
		&c.LastCustomerMessageAt, &c.LastOutboundAt, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	err = tc.Tx().QueryRow(ctx,
		`INSERT INTO conversations (tenant_id, platform, customer_ref, stage)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, platform, customer_ref) DO UPDATE SET updated_at = now()
		 RETURNING id, tenant_id, platform, customer_ref, stage,
		           last_customer_message_at, last_outbound_at, created_at, updated_at`,
		tc.TenantID, string(platform), customerRef, string(models.StageGreeting),
	).Scan(&c.ID, &c.TenantID, &c.Platform, &c.CustomerRef, &c.Stage,
		&c.LastCustomerMessageAt, &c.LastOutboundAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &c, nil
}

// AppendMessage inserts m, returning the existing row unchanged if
// PlatformMessageID was already recorded (idempotent replay).
func (s *Store) AppendMessage(ctx context.Context, tc *tenant.Context, m *models.Message) (*models.Message, error) {
	var out models.Message
	err := tc.Tx().QueryRow(ctx,
		`INSERT INTO messages (conversation_id, tenant_id, direction, platform_message_id,
		                       content, type, ai_confidence, ai_intent, processing_time_ms, delivery_status)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (conversation_id, platform_message_id) DO UPDATE SET content = messages.content
		 RETURNING id, conversation_id, tenant_id, direction, COALESCE(platform_message_id, ''),
		           content, type, ai_confidence, ai_intent, processing_time_ms, delivery_status, created_at`,
		m.ConversationID, tc.TenantID, string(m.Direction), m.PlatformMessageID,
		m.Content, string(m.Type), m.AIConfidence, m.AIIntent, m.ProcessingTimeMs, string(m.DeliveryStatus),
	).Scan(&out.ID, &out.ConversationID, &out.TenantID, &out.Direction, &out.PlatformMessageID,
		&out.Content, &out.Type, &out.AIConfidence, &out.AIIntent, &out.ProcessingTimeMs, &out.DeliveryStatus, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if m.Direction == models.DirectionInbound {
		if _, err := tc.Tx().Exec(ctx,
			`UPDATE conversations SET last_customer_message_at = now(), updated_at = now() WHERE id = $1`,
			m.ConversationID); err != nil {
			return nil, fmt.Errorf("touch last_customer_message_at: %w", err)
		}
	} else {
		if _, err := tc.Tx().Exec(ctx,
			`UPDATE conversations SET last_outbound_at = now(), updated_at = now() WHERE id = $1`,
			m.ConversationID); err != nil {
			return nil, fmt.Errorf("touch last_outbound_at: %w", err)
		}
	}

	return &out, nil
}

// RecentMessages returns up to limit most recent messages for a
// conversation, oldest first, for AI context assembly (default limit
// 20).
func (s *Store) RecentMessages(ctx context.Context, tc *tenant.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := tc.Tx().Query(ctx,
		`SELECT id, conversation_id, tenant_id, direction, COALESCE(platform_message_id, ''),
		        content, type, ai_confidence, ai_intent, processing_time_ms, delivery_status, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.PlatformMessageID,
			&m.Content, &m.Type, &m.AIConfidence, &m.AIIntent, &m.ProcessingTimeMs, &m.DeliveryStatus, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse to oldest-first for prompt assembly
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetMessage loads a single message by id, for the Delivery Bridge's
// outbound-candidate lookup.
func (s *Store) GetMessage(ctx context.Context, tc *tenant.Context, messageID string) (*models.Message, error) {
	var m models.Message
	err := tc.Tx().QueryRow(ctx,
		`SELECT id, conversation_id, tenant_id, direction, COALESCE(platform_message_id, ''),
		        content, type, ai_confidence, ai_intent, processing_time_ms, delivery_status, created_at
		 FROM messages WHERE id = $1`, messageID,
	).Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.PlatformMessageID,
		&m.Content, &m.Type, &m.AIConfidence, &m.AIIntent, &m.ProcessingTimeMs, &m.DeliveryStatus, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	return &m, nil
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, tc *tenant.Context, conversationID string) (*models.Conversation, error) {
	var c models.Conversation
	err := tc.Tx().QueryRow(ctx,
		`SELECT id, tenant_id, platform, customer_ref, stage,
		        last_customer_message_at, last_outbound_at, created_at, updated_at
		 FROM conversations WHERE id = $1`, conversationID,
	).Scan(&c.ID, &c.TenantID, &c.Platform, &c.CustomerRef, &c.Stage,
		&c.LastCustomerMessageAt, &c.LastOutboundAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &c, nil
}

// UpdateMessageDeliveryStatus transitions an outbound message's
// delivery_status (pending_delivery -> sent/failed/abandoned_policy).
func (s *Store) UpdateMessageDeliveryStatus(ctx context.Context, tc *tenant.Context, messageID string, status models.DeliveryStatus) error {
	if _, err := tc.Tx().Exec(ctx,
		`UPDATE messages SET delivery_status = $1 WHERE id = $2`, string(status), messageID); err != nil {
		return fmt.Errorf("update message delivery status: %w", err)
	}
	return nil
}

// UpdateStage transitions a conversation to newStage, rejecting
// downgrades that don't go through StageSupport.
func (s *Store) UpdateStage(ctx context.Context, tc *tenant.Context, conversationID string, newStage models.Stage) error {
	var cur models.Stage
	if err := tc.Tx().QueryRow(ctx, `SELECT stage FROM conversations WHERE id = $1`, conversationID).Scan(&cur); err != nil {
		return fmt.Errorf("load current stage: %w", err)
	}
	if newStage.IsDowngradeFrom(cur) {
		return ErrStageDowngrade
	}
	if _, err := tc.Tx().Exec(ctx,
		`UPDATE conversations SET stage = $1, updated_at = now() WHERE id = $2`,
		string(newStage), conversationID); err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return nil
}
