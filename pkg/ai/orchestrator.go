// Package ai implements the AI Orchestrator: assembles
// conversation context, calls the configured LLM provider under rate
// limiting and circuit breaking, and extracts a reply candidate with
// intent, confidence, and policy tags.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
)

// ErrPolicyRejected is returned when the extracted reply matches a
// tenant's policy deny-list and must not be sent.
var ErrPolicyRejected = errors.New("reply rejected by policy")

// Reply is the extracted outcome of a successful orchestration pass.
type Reply struct {
	Content          string
	Intent           string
	Confidence       float64
	ProcessingTimeMs int64
}

// Client is the minimal surface an LLM provider must implement.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (*Completion, error)
}

// Prompt is the assembled input to the LLM.
type Prompt struct {
	SystemTone     string
	Language       string
	History        []models.Message
	LatestMessage  string
	PolicyDenyList []string
}

// Completion is the raw LLM output before policy filtering.
type Completion struct {
	Content    string
	Intent     string
	Confidence float64
}

// Orchestrator wires a Client behind the shared rate limiter and
// circuit breaker used by every upstream-facing component.
type Orchestrator struct {
	client   Client
	limiter  *ratelimit.Limiter
	breakers *breaker.Registry
	cfg      *config.LLMConfig
}

func New(client Client, limiter *ratelimit.Limiter, breakers *breaker.Registry, cfg *config.LLMConfig) *Orchestrator {
	return &Orchestrator{client: client, limiter: limiter, breakers: breakers, cfg: cfg}
}

const (
	upstreamLLM       = "llm"
	endpointClassChat = "chat_completion"
)

// Generate builds a prompt from history + the tenant's AI config,
// calls the LLM with a 15s timeout and one retry, and applies the
// tenant's policy deny-list to the result.
func (o *Orchestrator) Generate(ctx context.Context, tenantID string, aiCfg models.TenantAIConfig, history []models.Message, latest string) (*Reply, error) {
	ok, wait := o.limiter.Acquire(ctx, tenantID, upstreamLLM, endpointClassChat, 1)
	if !ok {
		return nil, fmt.Errorf("llm rate limit exceeded, retry after %s", wait)
	}

	prompt := Prompt{
		SystemTone:     aiCfg.Tone,
		Language:       aiCfg.Language,
		History:        history,
		LatestMessage:  latest,
		PolicyDenyList: aiCfg.PolicyDenyList,
	}

	start := time.Now()
	completion, err := o.callWithRetry(ctx, tenantID, prompt)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	if violatesPolicy(completion.Content, aiCfg.PolicyDenyList) {
		return nil, ErrPolicyRejected
	}

	return &Reply{
		Content:          completion.Content,
		Intent:           completion.Intent,
		Confidence:       completion.Confidence,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

// callWithRetry calls the LLM once, and on timeout or transient error
// retries exactly once before escalating to the caller (which turns
// the failure into a follow_up job).
func (o *Orchestrator) callWithRetry(ctx context.Context, tenantID string, prompt Prompt) (*Completion, error) {
	var completion *Completion

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()

		return o.breakers.Execute(callCtx, upstreamLLM+":"+endpointClassChat, func(ctx context.Context) error {
			c, err := o.client.Complete(ctx, prompt)
			if err != nil {
				return err
			}
			completion = c
			return nil
		})
	}

	if err := attempt(); err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return nil, fmt.Errorf("llm circuit open: %w", err)
		}
		if errors.Is(err, breaker.NonRetryable) {
			return nil, fmt.Errorf("llm call rejected: %w", err)
		}
		if err := attempt(); err != nil {
			return nil, fmt.Errorf("llm call failed after retry: %w", err)
		}
	}

	if completion == nil {
		return nil, fmt.Errorf("llm returned no completion")
	}
	return completion, nil
}

func violatesPolicy(content string, denyList []string) bool {
	for _, term := range denyList {
		if term == "" {
			continue
		}
		if containsFold(content, term) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return false
	}
	lowerHaystack := toLower(haystack)
	lowerNeedle := toLower(needle)
	for i := 0; i+nl <= hl; i++ {
		if lowerHaystack[i:i+nl] == lowerNeedle {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// HTTPClient is the default Client implementation, calling a
// chat-completion style HTTP API (shape-compatible with the
// Anthropic/OpenAI-style provider the tenant configures).
type HTTPClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

func NewHTTPClient(apiKey, model, endpoint string) *HTTPClient {
	return &HTTPClient{
		apiKey:     apiKey,
		model:      model,
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Content    string  `json:"content"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func newAuthorizedRequest(ctx context.Context, endpoint, apiKey string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

func (c *HTTPClient) Complete(ctx context.Context, prompt Prompt) (*Completion, error) {
	messages := make([]chatMessage, 0, len(prompt.History)+1)
	for _, m := range prompt.History {
		role := "user"
		if m.Direction == models.DirectionOutbound {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.LatestMessage})

	reqBody, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal llm request: %w", err)
	}

	req, err := newAuthorizedRequest(ctx, c.endpoint, c.apiKey, reqBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("llm request rejected (%d): %w", resp.StatusCode, breaker.NonRetryable)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("llm upstream error: %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}

	return &Completion{Content: out.Content, Intent: out.Intent, Confidence: out.Confidence}, nil
}
