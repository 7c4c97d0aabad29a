package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
)

type fakeClient struct {
	completions []*Completion
	errs        []error
	calls       int
}

func (f *fakeClient) Complete(ctx context.Context, prompt Prompt) (*Completion, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.completions) {
		return f.completions[i], nil
	}
	return f.completions[len(f.completions)-1], nil
}

func testDeps() (*ratelimit.Limiter, *breaker.Registry) {
	return ratelimit.New(config.DefaultRateLimitConfig(), nil), breaker.NewRegistry(config.DefaultBreakerConfig(), nil)
}

func TestGenerate_HappyPath(t *testing.T) {
	limiter, breakers := testDeps()
	client := &fakeClient{completions: []*Completion{{Content: "hello there", Intent: "greeting", Confidence: 0.9}}}
	o := New(client, limiter, breakers, config.DefaultLLMConfig())

	reply, err := o.Generate(context.Background(), "tenant-1", models.TenantAIConfig{}, nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Content)
	assert.Equal(t, "greeting", reply.Intent)
	assert.Equal(t, 1, client.calls)
}

func TestGenerate_PolicyDenyListRejectsReply(t *testing.T) {
	limiter, breakers := testDeps()
	client := &fakeClient{completions: []*Completion{{Content: "here is a Forbidden word", Confidence: 0.5}}}
	o := New(client, limiter, breakers, config.DefaultLLMConfig())

	aiCfg := models.TenantAIConfig{PolicyDenyList: []string{"forbidden"}}
	_, err := o.Generate(context.Background(), "tenant-1", aiCfg, nil, "hi")
	assert.ErrorIs(t, err, ErrPolicyRejected)
}

func TestGenerate_RetriesOnceThenEscalates(t *testing.T) {
	limiter, breakers := testDeps()
	client := &fakeClient{errs: []error{errors.New("transient"), errors.New("transient again")}}
	o := New(client, limiter, breakers, config.DefaultLLMConfig())

	_, err := o.Generate(context.Background(), "tenant-1", models.TenantAIConfig{}, nil, "hi")
	require.Error(t, err)
	assert.Equal(t, 2, client.calls) // one call + exactly one retry
}

func TestGenerate_SucceedsOnRetryAfterOneFailure(t *testing.T) {
	limiter, breakers := testDeps()
	client := &fakeClient{
		errs:        []error{errors.New("transient")},
		completions: []*Completion{nil, {Content: "ok", Confidence: 0.8}},
	}
	o := New(client, limiter, breakers, config.DefaultLLMConfig())

	reply, err := o.Generate(context.Background(), "tenant-1", models.TenantAIConfig{}, nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Content)
	assert.Equal(t, 2, client.calls)
}

func TestHTTPClient_Complete_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"content":"hi there","intent":"greeting","confidence":0.7}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("secret-key", "test-model", srv.URL)
	completion, err := c.Complete(context.Background(), Prompt{LatestMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", completion.Content)
	assert.Equal(t, 0.7, completion.Confidence)
}

func TestHTTPClient_Complete_4xxIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient("bad-key", "test-model", srv.URL)
	_, err := c.Complete(context.Background(), Prompt{LatestMessage: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, breaker.NonRetryable)
}

func TestHTTPClient_Complete_5xxIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient("key", "test-model", srv.URL)
	_, err := c.Complete(context.Background(), Prompt{LatestMessage: "hi"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, breaker.NonRetryable))
}

func TestViolatesPolicy_CaseInsensitive(t *testing.T) {
	assert.True(t, violatesPolicy("this has a BadWord in it", []string{"badword"}))
	assert.False(t, violatesPolicy("this is fine", []string{"badword"}))
	assert.False(t, violatesPolicy("fine", []string{""}))
}
