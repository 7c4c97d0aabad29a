package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestDeadLetterHandler_Auth_RejectsWrongToken(t *testing.T) {
	h := &DeadLetterHandler{adminAPIKey: "correct-key"}

	e := newTestEngine()
	e.GET("/dead-letters/:id", h.auth(), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/dead-letters/abc", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeadLetterHandler_Auth_RejectsWhenKeyUnset(t *testing.T) {
	h := &DeadLetterHandler{adminAPIKey: ""}

	e := newTestEngine()
	e.GET("/dead-letters/:id", h.auth(), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/dead-letters/abc", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeadLetterHandler_Auth_AcceptsCorrectToken(t *testing.T) {
	h := &DeadLetterHandler{adminAPIKey: "correct-key"}

	e := newTestEngine()
	e.GET("/dead-letters/:id", h.auth(), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/dead-letters/abc", nil)
	req.Header.Set("Authorization", "Bearer correct-key")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
