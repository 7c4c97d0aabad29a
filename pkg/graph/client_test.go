package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
)

func testDeps() (*ratelimit.Limiter, *breaker.Registry) {
	return ratelimit.New(config.DefaultRateLimitConfig(), nil), breaker.NewRegistry(config.DefaultBreakerConfig(), nil)
}

func TestClient_SendText_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-App-Usage", `{"call_count":42}`)
		w.Write([]byte(`{"message_id":"graph-msg-1"}`))
	}))
	defer srv.Close()

	limiter, breakers := testDeps()
	cfg := &config.GraphConfig{BaseURL: srv.URL, APIVersion: "v19.0", Timeout: 5 * time.Second}
	c := NewClient(cfg, limiter, breakers)

	id, err := c.SendText(context.Background(), "tenant-1", "token", "U1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "graph-msg-1", id)
}

func TestClient_SendText_4xxIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	limiter, breakers := testDeps()
	cfg := &config.GraphConfig{BaseURL: srv.URL, APIVersion: "v19.0", Timeout: 5 * time.Second}
	c := NewClient(cfg, limiter, breakers)

	_, err := c.SendText(context.Background(), "tenant-1", "token", "U1", "hi")
	require.Error(t, err)
}

func TestClient_RefreshToken_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"new-token","expires_in":5184000}`))
	}))
	defer srv.Close()

	limiter, breakers := testDeps()
	cfg := &config.GraphConfig{BaseURL: srv.URL, APIVersion: "v19.0", Timeout: 5 * time.Second}
	c := NewClient(cfg, limiter, breakers)

	token, ttl, err := c.RefreshToken(context.Background(), "tenant-1", "app-id", "app-secret", "old-token")
	require.NoError(t, err)
	assert.Equal(t, "new-token", token)
	assert.Equal(t, 60*24*time.Hour, ttl)
}

func TestVerifyAndEchoChallenge(t *testing.T) {
	challenge, status := VerifyAndEchoChallenge("subscribe", "tok", "tok", "abc123")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "abc123", challenge)

	_, status = VerifyAndEchoChallenge("subscribe", "wrong", "tok", "abc123")
	assert.Equal(t, http.StatusForbidden, status)
}

func TestParseAppUsagePercent(t *testing.T) {
	pct, err := parseAppUsagePercent(`{"call_count":75}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, pct, 0.0001)
}
