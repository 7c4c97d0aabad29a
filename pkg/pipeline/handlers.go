// Package pipeline wires the Conversation Store, Message-Window
// Tracker, and AI Orchestrator into the two job.Handlers
// that carry an inbound event through to an outbound send candidate:
// process_webhook and generate_reply.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatbridge-hq/chatbridge/pkg/ai"
	"github.com/chatbridge-hq/chatbridge/pkg/convlock"
	"github.com/chatbridge-hq/chatbridge/pkg/conversation"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
	"github.com/chatbridge-hq/chatbridge/pkg/window"
)

// historyLimit is how many prior messages feed reply generation.
const historyLimit = 20

// IngestHandler implements queue.Handler for JobTypeProcessWebhook:
// it turns a parsed interaction into a persisted conversation and
// inbound message, records the reply-window clock, and hands off to
// the AI Orchestrator.
type IngestHandler struct {
	resolver  *tenant.Resolver
	convStore *conversation.Store
	windowTrk *window.Tracker
	queue     *queue.Store
}

func NewIngestHandler(resolver *tenant.Resolver, convStore *conversation.Store, windowTrk *window.Tracker, q *queue.Store) *IngestHandler {
	return &IngestHandler{resolver: resolver, convStore: convStore, windowTrk: windowTrk, queue: q}
}

func (h *IngestHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload models.ProcessWebhookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode process_webhook payload: %v", queue.ErrPermanent, err)
	}

	tc, err := h.resolver.Bind(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	defer tc.Release(ctx)

	conv, err := h.convStore.FindOrCreate(ctx, tc, payload.Platform, payload.CustomerRef)
	if err != nil {
		return fmt.Errorf("find or create conversation: %w", err)
	}

	msg, err := h.convStore.AppendMessage(ctx, tc, &models.Message{
		ConversationID:    conv.ID,
		Direction:         models.DirectionInbound,
		PlatformMessageID: payload.PlatformMsgID,
		Content:           payload.Content,
		Type:              payload.MessageType,
	})
	if err != nil {
		return fmt.Errorf("append inbound message: %w", err)
	}

	if err := h.windowTrk.RecordInbound(ctx, tc, conv.CustomerRef); err != nil {
		return fmt.Errorf("record inbound window: %w", err)
	}

	replyPayload := models.GenerateReplyPayload{ConversationID: conv.ID, InboundMessageID: msg.ID}
	if _, err := h.queue.Enqueue(ctx, job.TenantID, models.JobTypeGenerateReply, replyPayload, models.PriorityNormal, nil); err != nil {
		return fmt.Errorf("enqueue generate_reply job: %w", err)
	}

	return tc.Commit(ctx)
}

// ReplyHandler implements queue.Handler for JobTypeGenerateReply: it
// assembles conversation context, drives the AI Orchestrator, and
// either persists an outbound candidate (emitting deliver_outbound)
// or escalates to a follow_up job when generation fails or is
// policy-rejected.
type ReplyHandler struct {
	resolver     *tenant.Resolver
	convStore    *conversation.Store
	orchestrator *ai.Orchestrator
	queue        *queue.Store
	lock         *convlock.Locker
}

func NewReplyHandler(resolver *tenant.Resolver, convStore *conversation.Store, orchestrator *ai.Orchestrator, q *queue.Store, lock *convlock.Locker) *ReplyHandler {
	return &ReplyHandler{resolver: resolver, convStore: convStore, orchestrator: orchestrator, queue: q, lock: lock}
}

// Handle acquires the per-conversation outbound lock
// before assembling context or calling the AI Orchestrator, so that a
// reply already in flight for this conversation blocks a second one
// from starting rather than racing it. The lock's token rides along in
// the deliver_outbound payload and is released there; on any error
// return here before that job is enqueued, Handle releases it itself.
func (h *ReplyHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload models.GenerateReplyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode generate_reply payload: %v", queue.ErrPermanent, err)
	}

	token, err := h.lock.Acquire(ctx, payload.ConversationID)
	if err != nil {
		if errors.Is(err, convlock.ErrHeld) {
			return fmt.Errorf("another reply is in flight for this conversation: %w", err)
		}
		return fmt.Errorf("acquire conversation lock: %w", err)
	}
	releaseOnReturn := true
	defer func() {
		if releaseOnReturn {
			_ = h.lock.Release(ctx, payload.ConversationID, token)
		}
	}()

	tc, err := h.resolver.Bind(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	defer tc.Release(ctx)

	history, err := h.convStore.RecentMessages(ctx, tc, payload.ConversationID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	inbound, err := h.convStore.GetMessage(ctx, tc, payload.InboundMessageID)
	if err != nil {
		return fmt.Errorf("load inbound message: %w", err)
	}
	tenantRec, err := h.resolver.Tenant(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}

	reply, genErr := h.orchestrator.Generate(ctx, job.TenantID, tenantRec.AIConfig, history, inbound.Content)
	if genErr != nil {
		return h.escalate(ctx, tc, job, payload.ConversationID, genErr)
	}

	candidate, err := h.convStore.AppendMessage(ctx, tc, &models.Message{
		ConversationID:   payload.ConversationID,
		Direction:        models.DirectionOutbound,
		Content:          reply.Content,
		Type:             models.MessageTypeText,
		AIConfidence:     &reply.Confidence,
		AIIntent:         &reply.Intent,
		ProcessingTimeMs: &reply.ProcessingTimeMs,
		DeliveryStatus:   models.DeliveryStatusPendingDelivery,
	})
	if err != nil {
		return fmt.Errorf("persist outbound candidate: %w", err)
	}

	deliverPayload := models.DeliverOutboundPayload{
		ConversationID:     payload.ConversationID,
		CandidateMessageID: candidate.ID,
		LockToken:          string(token),
	}
	if _, err := h.queue.Enqueue(ctx, job.TenantID, models.JobTypeDeliverOutbound, deliverPayload, models.PriorityHigh, nil); err != nil {
		return fmt.Errorf("enqueue deliver_outbound job: %w", err)
	}

	releaseOnReturn = false // deliver_outbound now owns releasing the lock
	return tc.Commit(ctx)
}

func (h *ReplyHandler) escalate(ctx context.Context, tc *tenant.Context, job *models.Job, conversationID string, genErr error) error {
	reason := "extraction_failed"
	if errors.Is(genErr, ai.ErrPolicyRejected) {
		reason = "policy_rejection"
	}

	followUp := struct {
		ConversationID string `json:"conversation_id"`
		Reason         string `json:"reason"`
		Detail         string `json:"detail"`
	}{ConversationID: conversationID, Reason: reason, Detail: genErr.Error()}

	if _, err := h.queue.Enqueue(ctx, job.TenantID, models.JobTypeFollowUp, followUp, models.PriorityHigh, nil); err != nil {
		return fmt.Errorf("enqueue follow_up job: %w", err)
	}

	return tc.Commit(ctx)
}
