package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatbridge-hq/chatbridge/pkg/idempotency"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/signature"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// secretSource supplies the platform's shared HMAC secret and the
// handshake verify token. Values are app-wide, not per-tenant: the
// owning tenant isn't known until after the account id inside the
// (already-verified) body has been resolved.
type secretSource interface {
	Secret() string
	VerifyToken() string
}

type staticSecrets struct {
	secret      string
	verifyToken string
}

func (s staticSecrets) Secret() string      { return s.secret }
func (s staticSecrets) VerifyToken() string { return s.verifyToken }

// Handler implements the Webhook Router: HMAC verification,
// idempotency admission, tenant resolution, envelope parsing, and
// job handoff for the Instagram and ManyChat inbound endpoints.
type Handler struct {
	resolver   *tenant.Resolver
	idemStore  *idempotency.Store
	repo       *Repository
	queueStore *queue.Store

	instagram secretSource
	manychat  secretSource
}

// NewHandler wires the Webhook Router. instagramSecret/VerifyToken come
// from GraphConfig; manychatSecret drives the same HMAC check with
// ManyChat's own webhook secret.
func NewHandler(resolver *tenant.Resolver, idemStore *idempotency.Store, queueStore *queue.Store, instagramSecret, instagramVerifyToken, manychatSecret string) *Handler {
	return &Handler{
		resolver:   resolver,
		idemStore:  idemStore,
		repo:       NewRepository(),
		queueStore: queueStore,
		instagram:  staticSecrets{secret: instagramSecret, verifyToken: instagramVerifyToken},
		manychat:   staticSecrets{secret: manychatSecret},
	}
}

// RegisterRoutes attaches the webhook endpoints to r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/webhooks/instagram", h.VerifyInstagram)
	r.POST("/webhooks/instagram", h.HandleInstagram)
	r.POST("/webhooks/manychat", h.HandleManyChat)
}

// VerifyInstagram answers Meta's subscription handshake: echo
// hub.challenge back when hub.mode=subscribe and the token matches.
func (h *Handler) VerifyInstagram(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" {
		c.String(http.StatusBadRequest, "unsupported hub.mode")
		return
	}
	if token != h.instagram.VerifyToken() {
		slog.Warn("webhook: verify token mismatch")
		c.String(http.StatusForbidden, "invalid verify token")
		return
	}
	c.String(http.StatusOK, challenge)
}

// HandleInstagram ingests a Meta (Instagram/Messenger) webhook
// delivery: verify → claim → resolve → parse → persist → enqueue.
func (h *Handler) HandleInstagram(c *gin.Context) {
	h.ingest(c, models.PlatformInstagram, h.instagram.Secret(), ParseMetaEnvelope)
}

// HandleManyChat ingests a ManyChat webhook delivery. ManyChat's
// payload shape carries a single subscriber action per delivery, so
// parseManyChatEnvelope always yields at most one Interaction.
func (h *Handler) HandleManyChat(c *gin.Context) {
	h.ingest(c, models.PlatformInstagram, h.manychat.Secret(), parseManyChatEnvelope)
}

type envelopeParser func(body []byte) ([]Interaction, error)

// ingest runs the shared admission pipeline common to every webhook
// endpoint. Each stage maps to its own status code on failure; a
// parse failure after a verified signature
// is reported but the already-recorded event is left un-processed so
// a corrected retry from the upstream platform can still succeed.
func (h *Handler) ingest(c *gin.Context, platform models.Platform, secret string, parse envelopeParser) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "PAYLOAD_TOO_LARGE"})
			return
		}
		c.String(http.StatusBadRequest, "cannot read body")
		return
	}

	sigHeader := c.GetHeader("X-Hub-Signature-256")
	if sigHeader == "" {
		sigHeader = c.GetHeader("X-Hub-Signature")
	}
	if err := signature.Verify(secret, body, sigHeader); err != nil {
		switch {
		case errors.Is(err, signature.ErrMissingSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": "MISSING_SIGNATURE"})
		case errors.Is(err, signature.ErrBadSecret):
			slog.Error("webhook: shared secret not configured", "platform", platform)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "CONFIGURATION_ERROR"})
		default:
			slog.Warn("webhook: signature verification failed", "platform", platform)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_SIGNATURE"})
		}
		return
	}

	digest := sha256.Sum256(body)
	eventID := hex.EncodeToString(digest[:])

	claim, err := h.idemStore.Claim(ctx, string(platform)+":"+eventID)
	if err != nil {
		slog.Error("webhook: idempotency claim failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CLAIM_FAILED"})
		return
	}
	if claim == idempotency.ResultDuplicate {
		c.JSON(http.StatusOK, gin.H{"status": "DUPLICATE_IGNORED"})
		return
	}

	interactions, err := parse(body)
	if err != nil {
		slog.Warn("webhook: malformed payload", "platform", platform, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "MALFORMED_PAYLOAD"})
		return
	}

	received := time.Now().UTC()
	enqueued := 0
	for _, ia := range interactions {
		if err := h.enqueueInteraction(ctx, platform, eventID, received, ia); err != nil {
			slog.Warn("webhook: dropping interaction, tenant unresolved",
				"platform", platform, "account_id", ia.AccountID, "error", err)
			continue
		}
		enqueued++
	}
	_ = h.idemStore.MarkProcessed(ctx, string(platform)+":"+eventID, "enqueued")

	c.JSON(http.StatusOK, gin.H{"status": "EVENT_RECEIVED", "jobs_enqueued": enqueued})
}

// enqueueInteraction resolves the owning tenant for a single
// Interaction, records the webhook_event under that tenant, and
// enqueues exactly one process_webhook job.
func (h *Handler) enqueueInteraction(ctx context.Context, platform models.Platform, eventID string, receivedAt time.Time, ia Interaction) error {
	tc, err := h.resolver.Resolve(ctx, platform, ia.AccountID)
	if err != nil {
		return err
	}
	defer tc.Release(ctx)

	ev := &models.WebhookEvent{
		ID:         eventID,
		TenantID:   tc.TenantID,
		Platform:   platform,
		ReceivedAt: receivedAt,
		Status:     models.WebhookEventAccepted,
	}
	if err := h.repo.Record(ctx, tc, ev); err != nil {
		return err
	}

	payload := models.ProcessWebhookPayload{
		Platform:        platform,
		InteractionType: string(ia.Type),
		CustomerRef:     ia.CustomerRef,
		PlatformMsgID:   ia.PlatformMsgID,
		Content:         ia.Content,
		MessageType:     ia.MessageType,
		ReceivedAt:      receivedAt,
	}
	if _, err := h.queueStore.Enqueue(ctx, tc.TenantID, models.JobTypeProcessWebhook, payload, models.PriorityNormal, nil); err != nil {
		return err
	}

	return tc.Commit(ctx)
}
