package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/convlock"
	"github.com/chatbridge-hq/chatbridge/pkg/conversation"
	"github.com/chatbridge-hq/chatbridge/pkg/crypto"
	"github.com/chatbridge-hq/chatbridge/pkg/database"
	"github.com/chatbridge-hq/chatbridge/pkg/idempotency"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
	"github.com/chatbridge-hq/chatbridge/pkg/window"
)

const testEncryptionKeyHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

type bridgeEnv struct {
	tenantID   string
	resolver   *tenant.Resolver
	credRepo   *tenant.Repository
	convStore  *conversation.Store
	windowTrk  *window.Tracker
	sealer     *crypto.Sealer
	idemStore  *idempotency.Store
	queueStore *queue.Store
	lock       *convlock.Locker
	pool       *database.Client
}

func newBridgeEnv(t *testing.T) *bridgeEnv {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 10, MinIdleConns: 2,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 30 * time.Minute, HealthCheckPeriod: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	var tenantID string
	err = client.Pool.QueryRow(ctx,
		`INSERT INTO tenants (display_name, status) VALUES ('Acme', 'active') RETURNING id`).Scan(&tenantID)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sealer, err := crypto.NewSealer(testEncryptionKeyHex)
	require.NoError(t, err)

	return &bridgeEnv{
		tenantID:   tenantID,
		resolver:   tenant.New(client.Pool),
		credRepo:   tenant.NewRepository(client.Pool),
		convStore:  conversation.New(),
		windowTrk:  window.New(rdb, 24*time.Hour, 5*time.Minute),
		sealer:     sealer,
		idemStore:  idempotency.New(rdb, 72*time.Hour),
		queueStore: queue.NewStore(client.Pool, config.DefaultQueueConfig()),
		lock:       convlock.New(rdb),
		pool:       client,
	}
}

func (env *bridgeEnv) seedTenantAIConfig(t *testing.T, aiConfig models.TenantAIConfig) {
	raw, err := json.Marshal(aiConfig)
	require.NoError(t, err)
	_, err = env.pool.Pool.Exec(context.Background(),
		`UPDATE tenants SET ai_config = $1 WHERE id = $2`, raw, env.tenantID)
	require.NoError(t, err)
}

func (env *bridgeEnv) seedGraphCredential(t *testing.T, token string) {
	sealed, err := env.sealer.Seal([]byte(token), []byte(env.tenantID))
	require.NoError(t, err)
	_, err = env.pool.Pool.Exec(context.Background(),
		`INSERT INTO credentials (tenant_id, platform, platform_account_id, encrypted_token, active)
		 VALUES ($1, $2, 'page-1', $3, true)`,
		env.tenantID, string(models.PlatformInstagram), sealed)
	require.NoError(t, err)
}

func newBridge(env *bridgeEnv, graphCfg *config.GraphConfig, manychatCfg *config.ManyChatConfig) *Bridge {
	limiter := ratelimit.New(config.DefaultRateLimitConfig(), nil)
	breakers := breaker.NewRegistry(config.DefaultBreakerConfig(), nil)
	return NewBridge(env.resolver, env.credRepo, env.convStore, env.windowTrk, env.sealer,
		env.idemStore, env.queueStore, breakers, limiter, graphCfg, manychatCfg, env.lock, nil)
}

func seedOutboundCandidate(t *testing.T, env *bridgeEnv) (conversationID, messageID string) {
	tc, err := env.resolver.Bind(context.Background(), env.tenantID)
	require.NoError(t, err)
	defer tc.Release(context.Background())

	conv, err := env.convStore.FindOrCreate(context.Background(), tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	_, err = env.convStore.AppendMessage(context.Background(), tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionInbound,
		PlatformMessageID: "mid.1", Content: "hello", Type: models.MessageTypeText,
	})
	require.NoError(t, err)
	require.NoError(t, env.windowTrk.RecordInbound(context.Background(), tc, "cust-1"))

	candidate, err := env.convStore.AppendMessage(context.Background(), tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionOutbound,
		Content: "hi there!", Type: models.MessageTypeText,
	})
	require.NoError(t, err)
	require.NoError(t, tc.Commit(context.Background()))

	return conv.ID, candidate.ID
}

func TestBridge_DeliversViaGraphWithinWindow(t *testing.T) {
	env := newBridgeEnv(t)
	env.seedGraphCredential(t, "page-token")

	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message_id":"g.1"}`))
	}))
	defer graphSrv.Close()

	graphCfg := config.DefaultGraphConfig()
	graphCfg.BaseURL = graphSrv.URL
	manychatCfg := config.DefaultManyChatConfig() // disabled by default

	_, candidateID := seedOutboundCandidate(t, env)
	bridge := newBridge(env, graphCfg, manychatCfg)

	payload, err := json.Marshal(models.DeliverOutboundPayload{CandidateMessageID: candidateID})
	require.NoError(t, err)
	job := &models.Job{TenantID: env.tenantID, Type: models.JobTypeDeliverOutbound, Payload: payload}

	require.NoError(t, bridge.Handle(context.Background(), job))

	tc, err := env.resolver.Bind(context.Background(), env.tenantID)
	require.NoError(t, err)
	defer tc.Release(context.Background())
	msg, err := env.convStore.GetMessage(context.Background(), tc, candidateID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusSent, msg.DeliveryStatus)
}

func TestBridge_FallsBackToGraphWhenManyChatRejects(t *testing.T) {
	env := newBridgeEnv(t)
	env.seedGraphCredential(t, "page-token")
	env.seedTenantAIConfig(t, models.TenantAIConfig{
		ManyChatSettings: &models.ManyChatSettings{Enabled: true, ManyChatUDID: "udid-1"},
	})

	manychatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"not_subscribed"}`))
	}))
	defer manychatSrv.Close()
	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message_id":"g.2"}`))
	}))
	defer graphSrv.Close()

	graphCfg := config.DefaultGraphConfig()
	graphCfg.BaseURL = graphSrv.URL
	manychatCfg := config.DefaultManyChatConfig()
	manychatCfg.Enabled = true
	manychatCfg.BaseURL = manychatSrv.URL

	_, candidateID := seedOutboundCandidate(t, env)
	bridge := newBridge(env, graphCfg, manychatCfg)

	payload, err := json.Marshal(models.DeliverOutboundPayload{CandidateMessageID: candidateID})
	require.NoError(t, err)
	job := &models.Job{TenantID: env.tenantID, Type: models.JobTypeDeliverOutbound, Payload: payload}

	require.NoError(t, bridge.Handle(context.Background(), job))

	tc, err := env.resolver.Bind(context.Background(), env.tenantID)
	require.NoError(t, err)
	defer tc.Release(context.Background())
	msg, err := env.convStore.GetMessage(context.Background(), tc, candidateID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusSent, msg.DeliveryStatus)
}

func TestBridge_IsIdempotentOnReplay(t *testing.T) {
	env := newBridgeEnv(t)
	env.seedGraphCredential(t, "page-token")

	calls := 0
	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"message_id":"g.3"}`))
	}))
	defer graphSrv.Close()

	graphCfg := config.DefaultGraphConfig()
	graphCfg.BaseURL = graphSrv.URL
	manychatCfg := config.DefaultManyChatConfig()

	_, candidateID := seedOutboundCandidate(t, env)
	bridge := newBridge(env, graphCfg, manychatCfg)

	payload, err := json.Marshal(models.DeliverOutboundPayload{CandidateMessageID: candidateID})
	require.NoError(t, err)

	job1 := &models.Job{TenantID: env.tenantID, Type: models.JobTypeDeliverOutbound, Payload: payload}
	require.NoError(t, bridge.Handle(context.Background(), job1))

	job2 := &models.Job{TenantID: env.tenantID, Type: models.JobTypeDeliverOutbound, Payload: payload}
	require.NoError(t, bridge.Handle(context.Background(), job2))

	assert.Equal(t, 1, calls)
}

func TestBridge_OutsideWindowWithoutTemplateIsPermanentlyAbandoned(t *testing.T) {
	env := newBridgeEnv(t)
	env.seedGraphCredential(t, "page-token")
	// no templates configured, so a send outside the window has
	// nothing to fall back to.
	env.seedTenantAIConfig(t, models.TenantAIConfig{})

	tc, err := env.resolver.Bind(context.Background(), env.tenantID)
	require.NoError(t, err)
	conv, err := env.convStore.FindOrCreate(context.Background(), tc, models.PlatformInstagram, "cust-2")
	require.NoError(t, err)
	candidate, err := env.convStore.AppendMessage(context.Background(), tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionOutbound,
		Content: "hi there!", Type: models.MessageTypeText,
	})
	require.NoError(t, err)
	require.NoError(t, tc.Commit(context.Background()))
	tc.Release(context.Background())
	// no RecordInbound call: the window tracker has never seen this
	// customer, so InWindow reports false.

	graphCfg := config.DefaultGraphConfig()
	manychatCfg := config.DefaultManyChatConfig()
	bridge := newBridge(env, graphCfg, manychatCfg)

	payload, err := json.Marshal(models.DeliverOutboundPayload{CandidateMessageID: candidate.ID})
	require.NoError(t, err)
	job := &models.Job{TenantID: env.tenantID, Type: models.JobTypeDeliverOutbound, Payload: payload}

	err = bridge.Handle(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrPermanent)
	assert.ErrorIs(t, err, ErrTemplateRequired)

	tc2, err := env.resolver.Bind(context.Background(), env.tenantID)
	require.NoError(t, err)
	defer tc2.Release(context.Background())
	followUps, err := env.queueStore.Claim(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeFollowUp, followUps.Type)
}

func TestBridge_OutsideWindowSendsTaggedTemplateViaManyChatNotFreeForm(t *testing.T) {
	env := newBridgeEnv(t)
	env.seedGraphCredential(t, "page-token")
	env.seedTenantAIConfig(t, models.TenantAIConfig{
		Templates:        map[string]string{"": "tmpl-123"},
		ManyChatSettings: &models.ManyChatSettings{Enabled: true, ManyChatUDID: "udid-1"},
	})

	var gotBody map[string]any
	manychatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"data":{"message_id":"mc.tagged.1"}}`))
	}))
	defer manychatSrv.Close()

	graphCfg := config.DefaultGraphConfig()
	manychatCfg := config.DefaultManyChatConfig()
	manychatCfg.Enabled = true
	manychatCfg.BaseURL = manychatSrv.URL

	tc, err := env.resolver.Bind(context.Background(), env.tenantID)
	require.NoError(t, err)
	conv, err := env.convStore.FindOrCreate(context.Background(), tc, models.PlatformInstagram, "cust-3")
	require.NoError(t, err)
	candidate, err := env.convStore.AppendMessage(context.Background(), tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionOutbound,
		Content: "hi there!", Type: models.MessageTypeText,
	})
	require.NoError(t, err)
	require.NoError(t, tc.Commit(context.Background()))
	tc.Release(context.Background())
	// no RecordInbound call: InWindow reports false for this customer.

	bridge := newBridge(env, graphCfg, manychatCfg)

	payload, err := json.Marshal(models.DeliverOutboundPayload{CandidateMessageID: candidate.ID})
	require.NoError(t, err)
	job := &models.Job{TenantID: env.tenantID, Type: models.JobTypeDeliverOutbound, Payload: payload}

	require.NoError(t, bridge.Handle(context.Background(), job))

	require.NotNil(t, gotBody)
	data, ok := gotBody["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ACCOUNT_UPDATE", data["tag"])
	content, ok := data["content"].(map[string]any)
	require.True(t, ok)
	messages, ok := content["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	sentText := messages[0].(map[string]any)["text"]
	assert.Equal(t, "tmpl-123", sentText, "outside the window, the dispatched content must be the template reference, never the free-form reply")
	assert.NotEqual(t, "hi there!", sentText)
}
