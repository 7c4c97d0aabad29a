package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/conversation"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
	"github.com/chatbridge-hq/chatbridge/pkg/window"
)

// SendRequest is the POST /api/v1/send request body.
type SendRequest struct {
	TenantID   string                 `json:"tenant_id" binding:"required"`
	Recipient  string                 `json:"recipient" binding:"required"`
	Content    string                 `json:"content"`
	TemplateID string                 `json:"template_id"`
	Params     map[string]interface{} `json:"params"`
}

// SendHandler implements the tenant-authenticated direct send
// endpoint: it enforces the Message-Window Tracker synchronously
// so a caller gets an immediate TEMPLATE_REQUIRED rejection, then
// hands the accepted send to the same deliver_outbound path every
// other outbound candidate takes.
type SendHandler struct {
	adminAPIKey string
	resolver    *tenant.Resolver
	convStore   *conversation.Store
	windowTrk   *window.Tracker
	queueStore  *queue.Store
}

func NewSendHandler(cfg *config.SecurityConfig, resolver *tenant.Resolver, convStore *conversation.Store, windowTrk *window.Tracker, queueStore *queue.Store) *SendHandler {
	return &SendHandler{
		adminAPIKey: cfg.AdminAPIKey,
		resolver:    resolver,
		convStore:   convStore,
		windowTrk:   windowTrk,
		queueStore:  queueStore,
	}
}

// tenantAuth authenticates the caller against the shared admin API
// key. There is no per-tenant credential for this internal operator
// endpoint; tenant_id is supplied in the request body and scopes the
// storage work that follows, as it does for every other entry point.
func (h *SendHandler) tenantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminAPIKey == "" || bearerToken(c) != h.adminAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}

// Handle implements POST /api/v1/send.
func (h *SendHandler) Handle(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "detail": err.Error()})
		return
	}
	if req.Content == "" && req.TemplateID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "detail": "content or template_id is required"})
		return
	}

	ctx := c.Request.Context()

	tc, err := h.resolver.Bind(ctx, req.TenantID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "UNKNOWN_TENANT"})
		return
	}
	defer tc.Release(ctx)

	conv, err := h.convStore.FindOrCreate(ctx, tc, models.PlatformInstagram, req.Recipient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
		return
	}

	freeForm := req.TemplateID == ""
	if freeForm {
		inWindow, err := h.windowTrk.InWindow(ctx, tc, req.Recipient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
			return
		}
		if !inWindow {
			followUp := models.FollowUpPayload{
				ConversationID: conv.ID,
				Reason:         "template_required",
				Detail:         "free-form send requested outside the reply window with no template_id",
			}
			if _, err := h.queueStore.Enqueue(ctx, req.TenantID, models.JobTypeFollowUp, followUp, models.PriorityHigh, nil); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
				return
			}
			if err := tc.Commit(ctx); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "TEMPLATE_REQUIRED"})
			return
		}
	}

	content := req.Content
	msgType := models.MessageTypeText
	if !freeForm {
		msgType = models.MessageTypeTemplate
		content = req.TemplateID
	}

	candidate, err := h.convStore.AppendMessage(ctx, tc, &models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		Content:        content,
		Type:           msgType,
		DeliveryStatus: models.DeliveryStatusPendingDelivery,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
		return
	}

	deliverPayload := models.DeliverOutboundPayload{ConversationID: conv.ID, CandidateMessageID: candidate.ID}
	jobID, err := h.queueStore.Enqueue(ctx, req.TenantID, models.JobTypeDeliverOutbound, deliverPayload, models.PriorityHigh, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
		return
	}

	if err := tc.Commit(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "QUEUED", "job_id": jobID, "message_id": candidate.ID})
}
