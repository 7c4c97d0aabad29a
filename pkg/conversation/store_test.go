package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatbridge-hq/chatbridge/pkg/database"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

// newTestTenant spins up a migrated Postgres container, a tenant row,
// and a bound tenant.Context for it, so pkg/conversation's invariants
// (unique conversation key, idempotent message append) can be tested
// against the real row-level-isolation policy rather than a mock.
func newTestTenant(t *testing.T) (*tenant.Context, *tenant.Resolver) {
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
	t.Cleanup(func() {
		_ = pgContainer.Terminate(ctx)
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dbCfg := database.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 10, MinIdleConns: 2,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 30 * time.Minute, HealthCheckPeriod: time.Minute,
	}
	client, err := database.NewClient(ctx, dbCfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	var tenantID string
	err = client.Pool.QueryRow(ctx,
		`INSERT INTO tenants (display_name, status) VALUES ('Acme', 'active') RETURNING id`).Scan(&tenantID)
	require.NoError(t, err)

	resolver := tenant.New(client.Pool)
	tc, err := resolver.Bind(ctx, tenantID)
	require.NoError(t, err)
	t.Cleanup(func() { tc.Release(ctx) })

	return tc, resolver
}

func TestFindOrCreate_IsIdempotentForSameKey(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	c1, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	c2, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, models.StageGreeting, c2.Stage)
}

func TestFindOrCreate_NormalizesPlatformCasing(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	c1, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	c2, err := s.FindOrCreate(ctx, tc, models.Platform("INSTAGRAM"), "cust-1")
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
}

func TestAppendMessage_IdempotentOnPlatformMessageID(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	conv, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	m1, err := s.AppendMessage(ctx, tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionInbound,
		PlatformMessageID: "mid.1", Content: "hello", Type: models.MessageTypeText,
	})
	require.NoError(t, err)

	m2, err := s.AppendMessage(ctx, tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionInbound,
		PlatformMessageID: "mid.1", Content: "hello again (replay)", Type: models.MessageTypeText,
	})
	require.NoError(t, err)

	assert.Equal(t, m1.ID, m2.ID)

	history, err := s.RecentMessages(ctx, tc, conv.ID, 20)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAppendMessage_InboundTouchesLastCustomerMessageAt(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	conv, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)
	assert.Nil(t, conv.LastCustomerMessageAt)

	_, err = s.AppendMessage(ctx, tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionInbound,
		PlatformMessageID: "mid.1", Content: "hi", Type: models.MessageTypeText,
	})
	require.NoError(t, err)

	reloaded, err := s.GetConversation(ctx, tc, conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastCustomerMessageAt)
	assert.Nil(t, reloaded.LastOutboundAt)
}

func TestAppendMessage_OutboundTouchesLastOutboundAt(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	conv, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, tc, &models.Message{
		ConversationID: conv.ID, Direction: models.DirectionOutbound,
		Content: "hi there", Type: models.MessageTypeText,
	})
	require.NoError(t, err)

	reloaded, err := s.GetConversation(ctx, tc, conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastOutboundAt)
}

func TestRecentMessages_OrderedOldestFirst(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	conv, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	for i, mid := range []string{"mid.1", "mid.2", "mid.3"} {
		_, err := s.AppendMessage(ctx, tc, &models.Message{
			ConversationID: conv.ID, Direction: models.DirectionInbound,
			PlatformMessageID: mid, Content: mid, Type: models.MessageTypeText,
		})
		require.NoError(t, err)
		_ = i
	}

	history, err := s.RecentMessages(ctx, tc, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "mid.1", history[0].PlatformMessageID)
	assert.Equal(t, "mid.3", history[2].PlatformMessageID)
}

func TestUpdateStage_RejectsDowngradeOutsideSupport(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	conv, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStage(ctx, tc, conv.ID, models.StageNegotiation))

	err = s.UpdateStage(ctx, tc, conv.ID, models.StageGreeting)
	assert.ErrorIs(t, err, ErrStageDowngrade)
}

func TestUpdateStage_AllowsForwardProgress(t *testing.T) {
	tc, _ := newTestTenant(t)
	s := New()
	ctx := context.Background()

	conv, err := s.FindOrCreate(ctx, tc, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStage(ctx, tc, conv.ID, models.StageDiscovery))
	require.NoError(t, s.UpdateStage(ctx, tc, conv.ID, models.StageNegotiation))
}

func TestTenantIsolation_ConversationsAreScopedToTenant(t *testing.T) {
	tcA, resolver := newTestTenant(t)
	s := New()
	ctx := context.Background()

	_, err := s.FindOrCreate(ctx, tcA, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)

	var otherTenantID string
	err = tcA.Tx().Conn().QueryRow(ctx,
		`INSERT INTO tenants (display_name, status) VALUES ('Other', 'active') RETURNING id`).Scan(&otherTenantID)
	require.NoError(t, err)
	require.NoError(t, tcA.Commit(ctx))

	tcB, err := resolver.Bind(ctx, otherTenantID)
	require.NoError(t, err)
	defer tcB.Release(ctx)

	// tenant B's row policy scope must not see tenant A's conversation
	// for the same (platform, customer_ref) key — it must create its own.
	convB, err := s.FindOrCreate(ctx, tcB, models.PlatformInstagram, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, otherTenantID, convB.TenantID)
}
