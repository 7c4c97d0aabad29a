package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
)

// instrument records per-request HTTP metrics. Uses c.FullPath()
// rather than the raw URL so templated routes (e.g. the dead-letter
// admin routes) stay a single low-cardinality label instead of one
// series per tenant/job id.
func instrument(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		reg.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// securityHeaders sets the standard response headers required on
// every response.
func securityHeaders(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if production {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// cors allows only the configured origin allowlist. An empty
// allowlist is rejected at config validation time, so
// by the time this runs origins is always non-empty.
func cors(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Hub-Signature-256")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// bodyLimit enforces the webhook body ceiling: a request whose
// declared Content-Length exceeds maxBytes is rejected here with 413;
// a body that turns out larger without declaring so is cut off by
// http.MaxBytesReader, and the webhook handler answers that read
// error with 413 as well.
func bodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "PAYLOAD_TOO_LARGE"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// extractActor identifies the operator behind an admin-facing request,
// following the oauth2-proxy header convention: trust a
// reverse proxy to have authenticated the caller and forwarded their
// identity, falling back to a generic service identity when absent
// (e.g. a trusted internal caller).
func extractActor(c *gin.Context) string {
	if u := c.GetHeader("X-Forwarded-User"); u != "" {
		return u
	}
	if e := c.GetHeader("X-Forwarded-Email"); e != "" {
		return e
	}
	return "api-client"
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, used by tenantAuth to authenticate /api/v1/send callers.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
