// Package delivery implements the Delivery Bridge: choosing
// between the ManyChat and Graph API paths for an outbound candidate,
// enforcing the 24h reply window, and falling back between channels
// on transient or semantic rejection.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/convlock"
	"github.com/chatbridge-hq/chatbridge/pkg/conversation"
	"github.com/chatbridge-hq/chatbridge/pkg/crypto"
	"github.com/chatbridge-hq/chatbridge/pkg/graph"
	"github.com/chatbridge-hq/chatbridge/pkg/idempotency"
	"github.com/chatbridge-hq/chatbridge/pkg/manychat"
	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
	"github.com/chatbridge-hq/chatbridge/pkg/window"
)

// ErrTemplateRequired is returned when the reply window has closed,
// the candidate is free-form content, and no template matches the
// message's detected intent. Non-retryable.
var ErrTemplateRequired = errors.New("TEMPLATE_REQUIRED")

// Bridge implements queue.Handler for JobTypeDeliverOutbound.
type Bridge struct {
	resolver   *tenant.Resolver
	credRepo   *tenant.Repository
	convStore  *conversation.Store
	windowTrk  *window.Tracker
	sealer     *crypto.Sealer
	idemStore  *idempotency.Store
	queueStore *queue.Store
	repo       *Repository
	breakers   *breaker.Registry
	limiter    *ratelimit.Limiter
	graphCfg   *config.GraphConfig
	manychatCfg *config.ManyChatConfig
	lock       *convlock.Locker
	metrics    *metrics.Registry
}

// NewBridge wires the Delivery Bridge from its dependencies. metricsReg
// may be nil.
func NewBridge(
	resolver *tenant.Resolver,
	credRepo *tenant.Repository,
	convStore *conversation.Store,
	windowTrk *window.Tracker,
	sealer *crypto.Sealer,
	idemStore *idempotency.Store,
	queueStore *queue.Store,
	breakers *breaker.Registry,
	limiter *ratelimit.Limiter,
	graphCfg *config.GraphConfig,
	manychatCfg *config.ManyChatConfig,
	lock *convlock.Locker,
	metricsReg *metrics.Registry,
) *Bridge {
	return &Bridge{
		resolver:    resolver,
		credRepo:    credRepo,
		convStore:   convStore,
		windowTrk:   windowTrk,
		sealer:      sealer,
		idemStore:   idemStore,
		queueStore:  queueStore,
		repo:        NewRepository(),
		breakers:    breakers,
		limiter:     limiter,
		graphCfg:    graphCfg,
		manychatCfg: manychatCfg,
		lock:        lock,
		metrics:     metricsReg,
	}
}

// Handle implements queue.Handler.
func (b *Bridge) Handle(ctx context.Context, job *models.Job) error {
	var payload models.DeliverOutboundPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode deliver_outbound payload: %v", queue.ErrPermanent, err)
	}

	if payload.LockToken != "" {
		// best-effort: a slow job can outlive the 30s lock TTL, in which
		// case generate_reply's guarantee has already lapsed and a second
		// reply may overlap. Extending it here keeps the common case
		// (same job, normal latency) serialized without blocking delivery
		// on a lock that's already gone.
		_ = b.lock.Extend(ctx, payload.ConversationID, convlock.Token(payload.LockToken))
		defer func() { _ = b.lock.Release(ctx, payload.ConversationID, convlock.Token(payload.LockToken)) }()
	}

	tc, err := b.resolver.Bind(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	defer tc.Release(ctx)

	msg, err := b.convStore.GetMessage(ctx, tc, payload.CandidateMessageID)
	if err != nil {
		return fmt.Errorf("load outbound candidate: %w", err)
	}
	conv, err := b.convStore.GetConversation(ctx, tc, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	tenantRec, err := b.resolver.Tenant(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}

	claimKey := "deliver:" + payload.CandidateMessageID
	claim, err := b.idemStore.Claim(ctx, claimKey)
	if err != nil {
		return fmt.Errorf("idempotency claim: %w", err)
	}
	if claim == idempotency.ResultDuplicate {
		return nil
	}

	inWindow, err := b.windowTrk.InWindow(ctx, tc, conv.CustomerRef)
	if err != nil {
		return fmt.Errorf("check reply window: %w", err)
	}

	content := msg.Content
	useTemplate := false
	templateID := ""
	if !inWindow && isFreeForm(msg.Type) {
		intent := ""
		if msg.AIIntent != nil {
			intent = *msg.AIIntent
		}
		id, ok := tenantRec.AIConfig.Templates[intent]
		if !ok {
			if err := b.abandon(ctx, tc, job, msg, conv, "template_required", "no template for detected intent"); err != nil {
				return err
			}
			return fmt.Errorf("%w: %v", queue.ErrPermanent, ErrTemplateRequired)
		}
		useTemplate = true
		templateID = id
	}

	outcome := b.attemptManyChat(ctx, tc, job, msg, conv, tenantRec, content, useTemplate, templateID)
	if outcome.sent {
		if useTemplate {
			b.metrics.ObserveWindowFallback(string(outcome.channel))
		}
		return b.finish(ctx, tc, msg, outcome)
	}

	graphOutcome := b.attemptGraph(ctx, tc, job, msg, conv, tenantRec, content, useTemplate, templateID)
	if graphOutcome.sent {
		if useTemplate {
			b.metrics.ObserveWindowFallback(string(graphOutcome.channel))
		}
		return b.finish(ctx, tc, msg, graphOutcome)
	}

	if err := b.abandon(ctx, tc, job, msg, conv, "delivery_failed", graphOutcome.errClass); err != nil {
		return err
	}
	return fmt.Errorf("%w: delivery exhausted both channels: %s", queue.ErrPermanent, graphOutcome.errClass)
}

func isFreeForm(t models.MessageType) bool {
	return t == models.MessageTypeText || t == models.MessageTypeStoryReply || t == models.MessageTypeComment
}

type sendOutcome struct {
	sent          bool
	channel       models.Channel
	upstreamMsgID string
	errClass      string
	latency       time.Duration
}

// attemptManyChat tries the ManyChat path when the tenant has it
// configured and its breaker isn't open. Any failure here falls
// through to the Graph path — the caller tries it next regardless.
//
// Outside the reply window (useTemplate), a free-form send is never
// dispatched: the message is sent as the tenant's template reference
// for the detected intent, tagged with a Meta message tag that
// justifies delivery outside the standard messaging window, and the
// attempt is recorded under the template_fallback channel rather than
// manychat's plain text channel.
func (b *Bridge) attemptManyChat(ctx context.Context, tc *tenant.Context, job *models.Job, msg *models.Message, conv *models.Conversation, tenantRec *models.Tenant, content string, useTemplate bool, templateID string) sendOutcome {
	settings := tenantRec.AIConfig.ManyChatSettings
	if settings == nil || !settings.Enabled || !b.manychatCfg.Enabled {
		return sendOutcome{}
	}
	if b.breakers.State("manychat:send_content") == "open" {
		return sendOutcome{errClass: "UPSTREAM_OPEN"}
	}

	start := time.Now()
	client := manychat.NewClient(b.manychatCfg.APIKey, b.manychatCfg, b.limiter, b.breakers)

	subscriberID := settings.ManyChatUDID
	if subscriberID == "" {
		id, err := client.LookupSubscriber(ctx, job.TenantID, conv.CustomerRef)
		if err != nil {
			return sendOutcome{errClass: rejectionClass(err)}
		}
		subscriberID = id
	}

	channel := models.ChannelManyChat
	sendText := content
	messageTag := ""
	if useTemplate {
		channel = models.ChannelTemplateFallback
		sendText = templateID
		messageTag = manychat.MessageTagAccountUpdate
	}

	upstreamID, err := client.Send(ctx, job.TenantID, manychat.SendTextInput{SubscriberID: subscriberID, Text: sendText, MessageTag: messageTag})
	latency := time.Since(start)
	if err != nil {
		b.logAttempt(ctx, tc, job, msg, channel, models.OutcomeRejected, "", latency, rejectionClass(err))
		return sendOutcome{errClass: rejectionClass(err), latency: latency}
	}

	b.logAttempt(ctx, tc, job, msg, channel, models.OutcomeSent, upstreamID, latency, "")
	return sendOutcome{sent: true, channel: channel, upstreamMsgID: upstreamID, latency: latency}
}

func rejectionClass(err error) string {
	var rej *manychat.RejectionError
	if errors.As(err, &rej) {
		return string(rej.Code)
	}
	return err.Error()
}

// attemptGraph tries the direct Graph API path, used as the fallback
// when ManyChat is unavailable or unconfigured; outside the reply
// window it sends templateID as a template, like the ManyChat path.
func (b *Bridge) attemptGraph(ctx context.Context, tc *tenant.Context, job *models.Job, msg *models.Message, conv *models.Conversation, tenantRec *models.Tenant, content string, useTemplate bool, templateID string) sendOutcome {
	cred, err := b.credRepo.CredentialFor(ctx, job.TenantID, models.PlatformInstagram)
	if err != nil {
		return sendOutcome{errClass: "NO_CREDENTIAL"}
	}
	tokenBytes, err := b.sealer.Open(cred.EncryptedToken, []byte(job.TenantID))
	if err != nil {
		return sendOutcome{errClass: "CREDENTIAL_DECRYPT_FAILED"}
	}
	token := string(tokenBytes)

	client := graph.NewClient(b.graphCfg, b.limiter, b.breakers)

	start := time.Now()
	var upstreamID string
	channel := models.ChannelGraphDirect
	if useTemplate {
		channel = models.ChannelTemplateFallback
		upstreamID, err = client.SendTemplate(ctx, job.TenantID, token, conv.CustomerRef, templateID, nil)
	} else {
		upstreamID, err = client.SendText(ctx, job.TenantID, token, conv.CustomerRef, content)
	}
	latency := time.Since(start)

	if err != nil {
		b.logAttempt(ctx, tc, job, msg, channel, models.OutcomeFailed, "", latency, err.Error())
		return sendOutcome{errClass: err.Error(), latency: latency}
	}

	b.logAttempt(ctx, tc, job, msg, channel, models.OutcomeSent, upstreamID, latency, "")
	return sendOutcome{sent: true, channel: channel, upstreamMsgID: upstreamID, latency: latency}
}

func (b *Bridge) logAttempt(ctx context.Context, tc *tenant.Context, job *models.Job, msg *models.Message, channel models.Channel, outcome models.Outcome, upstreamMsgID string, latency time.Duration, errClass string) {
	log := &models.DeliveryLog{
		TenantID:      tc.TenantID,
		JobID:         job.ID,
		MessageID:     msg.ID,
		ConversationID: msg.ConversationID,
		Channel:       channel,
		Outcome:       outcome,
		UpstreamMsgID: upstreamMsgID,
		AttemptNumber: job.AttemptCount + 1,
		LatencyMs:     latency.Milliseconds(),
		ErrorClass:    errClass,
	}
	if err := b.repo.Record(ctx, tc, log); err != nil {
		// the send itself already happened; a logging failure must not
		// mask that outcome from the caller.
		_ = err
	}
}

func (b *Bridge) finish(ctx context.Context, tc *tenant.Context, msg *models.Message, outcome sendOutcome) error {
	if err := b.convStore.UpdateMessageDeliveryStatus(ctx, tc, msg.ID, models.DeliveryStatusSent); err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	if err := tc.Commit(ctx); err != nil {
		return err
	}
	// the send already happened; a failure to record this is non-fatal
	// (the candidate is correctly marked sent either way) but leaves
	// the claim looking abandoned after claimGrace, which only risks a
	// harmless extra send attempt should this exact job ever replay.
	_ = b.idemStore.MarkProcessed(ctx, "deliver:"+msg.ID, string(outcome.channel))
	return nil
}

// abandon marks the candidate failed and enqueues a follow_up job so
// an operator can intervene, then commits the tenant context's work
// (the status change and any delivery log rows already written).
func (b *Bridge) abandon(ctx context.Context, tc *tenant.Context, job *models.Job, msg *models.Message, conv *models.Conversation, reason, detail string) error {
	if err := b.convStore.UpdateMessageDeliveryStatus(ctx, tc, msg.ID, models.DeliveryStatusFailed); err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}

	followUp := struct {
		ConversationID string `json:"conversation_id"`
		Reason         string `json:"reason"`
		Detail         string `json:"detail"`
	}{ConversationID: conv.ID, Reason: reason, Detail: detail}

	if _, err := b.queueStore.Enqueue(ctx, job.TenantID, models.JobTypeFollowUp, followUp, models.PriorityHigh, nil); err != nil {
		return fmt.Errorf("enqueue follow_up job: %w", err)
	}

	return tc.Commit(ctx)
}
