// Package manychat implements the ManyChat Adapter: sending
// outbound messages and maintaining subscriber state through
// ManyChat's REST API, rate-limited and circuit-broken like every
// other upstream-facing component.
package manychat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
)

// Rejection classifies a non-2xx ManyChat response so the Delivery
// Bridge can decide whether to retry on ManyChat, fall back to the
// Graph API, or treat the send as terminally failed.
type Rejection string

const (
	RejectionUpstreamOpen   Rejection = "UPSTREAM_OPEN"
	RejectionTransient      Rejection = "TRANSIENT"
	RejectionNotSubscribed  Rejection = "NOT_SUBSCRIBED"
	RejectionInvalidSubject Rejection = "invalid_subscriber"
	RejectionPolicy         Rejection = "policy_violation"
)

// RejectionError wraps a ManyChat rejection with its classification.
type RejectionError struct {
	Code Rejection
	Msg  string
}

func (e *RejectionError) Error() string { return fmt.Sprintf("manychat: %s: %s", e.Code, e.Msg) }

const (
	upstreamManyChat        = "manychat"
	endpointClassSend       = "send_content"
	endpointClassSubscriber = "subscriber"
	endpointClassTag        = "tag"
)

// MessageTagAccountUpdate is the Meta human-agent message tag used to
// justify delivering a reply outside the 24h standard messaging
// window.
const MessageTagAccountUpdate = "ACCOUNT_UPDATE"

// Client calls the ManyChat REST API for a single tenant's configured
// API key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breakers   *breaker.Registry
}

// NewClient constructs a Client. apiKey is the tenant's ManyChat API
// key, decrypted by the caller from its sealed Credential.
func NewClient(apiKey string, cfg *config.ManyChatConfig, limiter *ratelimit.Limiter, breakers *breaker.Registry) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiter,
		breakers:   breakers,
	}
}

// SendTextInput is the minimal payload for a subscriber text send.
type SendTextInput struct {
	SubscriberID string
	Text         string

	// MessageTag is a Meta message-tag category (e.g.
	// MessageTagAccountUpdate). Non-empty whenever the Delivery Bridge
	// is sending outside the 24h reply window; empty for a standard
	// in-window send.
	MessageTag string
}

// Send dispatches a reply to a subscriber via ManyChat's sendContent
// endpoint. When in.MessageTag is set, the send is tagged so ManyChat
// forwards it to Meta as a tagged message permitted outside the
// standard 24h messaging window.
func (c *Client) Send(ctx context.Context, tenantID string, in SendTextInput) (upstreamMsgID string, err error) {
	data := map[string]any{
		"version": "v2",
		"content": map[string]any{
			"messages": []map[string]string{{"type": "text", "text": in.Text}},
		},
	}
	if in.MessageTag != "" {
		data["tag"] = in.MessageTag
	}

	body, err := json.Marshal(map[string]any{
		"subscriber_id": in.SubscriberID,
		"data":          data,
	})
	if err != nil {
		return "", fmt.Errorf("marshal manychat send payload: %w", err)
	}

	var msgID string
	err = c.call(ctx, tenantID, endpointClassSend, "/fb/sending/sendContent", body, func(resp *http.Response) error {
		var out struct {
			Data struct{ MessageID string `json:"message_id"` } `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode manychat send response: %w", err)
		}
		msgID = out.Data.MessageID
		return nil
	})
	return msgID, err
}

// LookupSubscriber resolves a platform customer ref to a ManyChat
// subscriber id, returning RejectionNotSubscribed if ManyChat has no
// record of the customer (e.g. they never messaged the ManyChat bot).
func (c *Client) LookupSubscriber(ctx context.Context, tenantID, platformCustomerRef string) (subscriberID string, err error) {
	var id string
	path := fmt.Sprintf("/fb/subscriber/findByCustomField?field_name=customer_ref&field_value=%s", platformCustomerRef)
	err = c.call(ctx, tenantID, endpointClassSubscriber, path, nil, func(resp *http.Response) error {
		var out struct {
			Data struct{ ID string `json:"id"` } `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode manychat subscriber response: %w", err)
		}
		if out.Data.ID == "" {
			return &RejectionError{Code: RejectionNotSubscribed, Msg: "no subscriber for customer ref"}
		}
		id = out.Data.ID
		return nil
	})
	return id, err
}

// UpsertSubscriber creates or updates the ManyChat subscriber record
// for a new conversation participant.
func (c *Client) UpsertSubscriber(ctx context.Context, tenantID, platformCustomerRef, firstName string) (subscriberID string, err error) {
	body, err := json.Marshal(map[string]any{
		"first_name":   firstName,
		"custom_fields": map[string]string{"customer_ref": platformCustomerRef},
	})
	if err != nil {
		return "", fmt.Errorf("marshal manychat upsert payload: %w", err)
	}

	var id string
	err = c.call(ctx, tenantID, endpointClassSubscriber, "/fb/subscriber/createSubscriber", body, func(resp *http.Response) error {
		var out struct {
			Data struct{ ID string `json:"id"` } `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode manychat upsert response: %w", err)
		}
		id = out.Data.ID
		return nil
	})
	return id, err
}

// AddTags attaches one or more ManyChat tags to a subscriber, used to
// drive ManyChat-side automations from pipeline state changes.
func (c *Client) AddTags(ctx context.Context, tenantID, subscriberID string, tags []string) error {
	for _, tag := range tags {
		body, err := json.Marshal(map[string]any{"subscriber_id": subscriberID, "tag_name": tag})
		if err != nil {
			return fmt.Errorf("marshal manychat tag payload: %w", err)
		}
		if err := c.call(ctx, tenantID, endpointClassTag, "/fb/subscriber/addTagByName", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// call performs a rate-limited, circuit-broken POST/GET to path and
// hands the response to decode on success. A 429, a 422 or a transport
// failure yields a RejectionError the Delivery Bridge can inspect with
// errors.As; any other 4xx wraps breaker.NonRetryable and a 5xx is a
// plain error.
func (c *Client) call(ctx context.Context, tenantID, endpointClass, path string, body []byte, decode func(*http.Response) error) error {
	ok, wait := c.limiter.Acquire(ctx, tenantID, upstreamManyChat, endpointClass, 1)
	if !ok {
		return &RejectionError{Code: RejectionTransient, Msg: fmt.Sprintf("rate limited, retry after %s", wait)}
	}

	return c.breakers.Execute(ctx, upstreamManyChat+":"+endpointClass, func(ctx context.Context) error {
		method := http.MethodGet
		var reader *bytes.Reader
		if body != nil {
			method = http.MethodPost
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build manychat request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &RejectionError{Code: RejectionTransient, Msg: err.Error()}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &RejectionError{Code: RejectionTransient, Msg: "rate limited"}
		case resp.StatusCode >= 500:
			return fmt.Errorf("manychat upstream error: %d", resp.StatusCode)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %w", breaker.NonRetryable, &RejectionError{Code: RejectionInvalidSubject, Msg: "unprocessable subscriber"})
		case resp.StatusCode >= 400:
			return fmt.Errorf("%w: manychat request rejected (%d)", breaker.NonRetryable, resp.StatusCode)
		}

		if decode != nil {
			return decode(resp)
		}
		return nil
	})
}
