// Package graph implements the Graph API Adapter: direct
// Instagram/Messenger delivery, bypassing ManyChat, plus the
// long-lived token refresh the Graph API's OAuth flow requires.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
)

const (
	upstreamGraph           = "graph"
	endpointClassSendText   = "send_text"
	endpointClassTemplate   = "send_template"
	endpointClassRefresh    = "refresh_token"
)

// Client calls the Graph API for a single tenant's connected page.
// Token refresh is serialized per tenant (tokenMu) since Meta
// invalidates the previous long-lived token the instant a new one is
// minted — a concurrent refresh would race the adapter's own retry.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breakers   *breaker.Registry

	tokenMu sync.Mutex
}

func NewClient(cfg *config.GraphConfig, limiter *ratelimit.Limiter, breakers *breaker.Registry) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		breakers:   breakers,
	}
}

// SendText posts a plain-text message to recipientID using
// accessToken, the decrypted page token for the owning tenant.
func (c *Client) SendText(ctx context.Context, tenantID, accessToken, recipientID, text string) (upstreamMsgID string, err error) {
	body, err := json.Marshal(map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	})
	if err != nil {
		return "", fmt.Errorf("marshal graph send payload: %w", err)
	}
	return c.send(ctx, tenantID, endpointClassSendText, accessToken, body)
}

// SendTemplate posts a structured template message (used when the
// 24h reply window has closed and only a pre-approved template may be
// sent).
func (c *Client) SendTemplate(ctx context.Context, tenantID, accessToken, recipientID, templateID string, params map[string]string) (upstreamMsgID string, err error) {
	body, err := json.Marshal(map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_id": templateID,
					"params":      params,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal graph template payload: %w", err)
	}
	return c.send(ctx, tenantID, endpointClassTemplate, accessToken, body)
}

func (c *Client) send(ctx context.Context, tenantID, endpointClass, accessToken string, body []byte) (string, error) {
	ok, wait := c.limiter.Acquire(ctx, tenantID, upstreamGraph, endpointClass, 1)
	if !ok {
		return "", fmt.Errorf("graph rate limit exceeded, retry after %s", wait)
	}

	var msgID string
	err := c.breakers.Execute(ctx, upstreamGraph+":"+endpointClass, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/%s/me/messages?access_token=%s", c.baseURL, c.apiVersion, accessToken)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build graph request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("graph request failed: %w", err)
		}
		defer resp.Body.Close()

		c.reportUsage(tenantID, endpointClass, resp)

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: graph request rejected (%d)", breaker.NonRetryable, resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("graph upstream error: %d", resp.StatusCode)
		}

		var out struct {
			MessageID string `json:"message_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
		msgID = out.MessageID
		return nil
	})
	return msgID, err
}

// reportUsage parses Meta's X-Business-Use-Case-Usage-style header
// and forwards the call-count fraction to the shared rate limiter so
// buckets shrink ahead of Meta actually throttling the tenant.
func (c *Client) reportUsage(tenantID, endpointClass string, resp *http.Response) {
	raw := resp.Header.Get("X-App-Usage")
	if raw == "" {
		return
	}
	var usage struct {
		CallCount int `json:"call_count"`
	}
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return
	}
	c.limiter.ReportUsage(tenantID, upstreamGraph, endpointClass, float64(usage.CallCount)/100.0)
}

// RefreshToken exchanges a short- or long-lived token for a fresh
// long-lived one. Serialized per Client instance: callers share one
// Client per tenant+platform credential.
func (c *Client) RefreshToken(ctx context.Context, tenantID, appID, appSecret, currentToken string) (newToken string, expiresIn time.Duration, err error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	ok, wait := c.limiter.Acquire(ctx, tenantID, upstreamGraph, endpointClassRefresh, 1)
	if !ok {
		return "", 0, fmt.Errorf("graph rate limit exceeded, retry after %s", wait)
	}

	var token string
	var ttl time.Duration
	err = c.breakers.Execute(ctx, upstreamGraph+":"+endpointClassRefresh, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/%s/oauth/access_token?grant_type=fb_exchange_token&client_id=%s&client_secret=%s&fb_exchange_token=%s",
			c.baseURL, c.apiVersion, appID, appSecret, currentToken)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return fmt.Errorf("build graph refresh request: %w", reqErr)
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("graph refresh request failed: %w", doErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: graph refresh rejected (%d)", breaker.NonRetryable, resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("graph upstream error: %d", resp.StatusCode)
		}

		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
			return fmt.Errorf("decode graph refresh response: %w", decErr)
		}
		token = out.AccessToken
		ttl = time.Duration(out.ExpiresIn) * time.Second
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return token, ttl, nil
}

// VerifyAndEchoChallenge implements the same subscription handshake
// the Webhook Router exposes, here for the adapter's own standalone
// verification utility (e.g. re-subscribing a page programmatically).
func VerifyAndEchoChallenge(mode, token, expectedToken, challenge string) (string, int) {
	if mode != "subscribe" || token != expectedToken {
		return "", http.StatusForbidden
	}
	return challenge, http.StatusOK
}

// parseAppUsagePercent is a small helper kept for tests that only have
// the raw header value, not a full *http.Response.
func parseAppUsagePercent(raw string) (float64, error) {
	var usage struct {
		CallCount int `json:"call_count"`
	}
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return 0, err
	}
	return float64(usage.CallCount) / 100.0, nil
}
