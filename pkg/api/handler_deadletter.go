package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatbridge-hq/chatbridge/pkg/deadletter"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

// DeadLetterHandler exposes the operator-facing dead-letter operations
// (inspect, redrive, redact) over HTTP, gated behind the same shared
// admin secret as the send endpoint. tenant_id and dead-letter id are
// both path parameters; the actor performing the action is taken from
// the oauth2-proxy forwarded-identity headers when present.
type DeadLetterHandler struct {
	adminAPIKey string
	svc         *deadletter.Service
}

func NewDeadLetterHandler(adminAPIKey string, svc *deadletter.Service) *DeadLetterHandler {
	return &DeadLetterHandler{adminAPIKey: adminAPIKey, svc: svc}
}

func (h *DeadLetterHandler) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminAPIKey == "" || bearerToken(c) != h.adminAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}

func (h *DeadLetterHandler) inspect(c *gin.Context) {
	dl, err := h.svc.Inspect(c.Request.Context(), c.Param("tenant_id"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dl)
}

type redriveRequest struct {
	OverridePriority *models.Priority `json:"override_priority"`
}

func (h *DeadLetterHandler) redrive(c *gin.Context) {
	var req redriveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "detail": err.Error()})
			return
		}
	}

	actorID := extractActor(c)
	jobID, err := h.svc.Redrive(c.Request.Context(), actorID, c.Param("tenant_id"), c.Param("id"), req.OverridePriority)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "REDRIVEN", "job_id": jobID})
}

func (h *DeadLetterHandler) redact(c *gin.Context) {
	actorID := extractActor(c)
	if err := h.svc.RedactAndDiscard(c.Request.Context(), actorID, c.Param("tenant_id"), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "REDACTED"})
}

func (h *DeadLetterHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, deadletter.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
	case errors.Is(err, deadletter.ErrAlreadyActioned):
		c.JSON(http.StatusConflict, gin.H{"error": "ALREADY_ACTIONED"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL"})
	}
}
