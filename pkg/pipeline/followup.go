package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatbridge-hq/chatbridge/pkg/conversation"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/slack"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// FollowUpHandler implements queue.Handler for JobTypeFollowUp: the
// terminal hand-off point for replies the pipeline could not complete
// on its own (policy rejection, a missing template, or exhausted
// delivery channels). It marks the conversation's support stage and
// notifies the tenant's operator channel; it never retries, since the
// condition that produced the follow_up is already final.
type FollowUpHandler struct {
	resolver  *tenant.Resolver
	convStore *conversation.Store
	notifier  *slack.Service
}

func NewFollowUpHandler(resolver *tenant.Resolver, convStore *conversation.Store, notifier *slack.Service) *FollowUpHandler {
	return &FollowUpHandler{resolver: resolver, convStore: convStore, notifier: notifier}
}

func (h *FollowUpHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload models.FollowUpPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode follow_up payload: %v", queue.ErrPermanent, err)
	}

	tc, err := h.resolver.Bind(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	defer tc.Release(ctx)

	if err := h.convStore.UpdateStage(ctx, tc, payload.ConversationID, models.StageSupport); err != nil {
		return fmt.Errorf("route conversation to support: %w", err)
	}

	if err := tc.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}

	h.notifier.NotifyFollowUp(ctx, slack.FollowUpInput{
		ConversationID: payload.ConversationID,
		TenantID:       job.TenantID,
		Reason:         payload.Reason,
		Detail:         payload.Detail,
	})

	return nil
}
