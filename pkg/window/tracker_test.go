package window

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatbridge-hq/chatbridge/pkg/database"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
)

type windowEnv struct {
	tc  *tenant.Context
	rdb *redis.Client
	mr  *miniredis.Miniredis
}

func newWindowEnv(t *testing.T) *windowEnv {
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

	resolver := tenant.New(client.Pool)
	tc, err := resolver.Bind(ctx, tenantID)
	require.NoError(t, err)
	t.Cleanup(func() { tc.Release(ctx) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return &windowEnv{tc: tc, rdb: rdb, mr: mr}
}

func TestInWindow_FalseWhenNeverRecorded(t *testing.T) {
	env := newWindowEnv(t)
	tr := New(env.rdb, 24*time.Hour, 5*time.Minute)

	inWindow, err := tr.InWindow(context.Background(), env.tc, "cust-1")
	require.NoError(t, err)
	assert.False(t, inWindow)
}

func TestInWindow_TrueImmediatelyAfterRecordInbound(t *testing.T) {
	env := newWindowEnv(t)
	tr := New(env.rdb, 24*time.Hour, 5*time.Minute)

	require.NoError(t, tr.RecordInbound(context.Background(), env.tc, "cust-1"))

	inWindow, err := tr.InWindow(context.Background(), env.tc, "cust-1")
	require.NoError(t, err)
	assert.True(t, inWindow)
}

func TestInWindow_FalseAfterWindowPlusGraceElapsed(t *testing.T) {
	env := newWindowEnv(t)
	tr := New(env.rdb, 50*time.Millisecond, 25*time.Millisecond)

	require.NoError(t, tr.RecordInbound(context.Background(), env.tc, "cust-1"))
	// backdate the cached timestamp: InWindow compares it with the wall
	// clock, and letting FastForward expire the key would fall back to
	// the fresh Postgres row instead.
	require.NoError(t, env.mr.Set(redisKey(env.tc.TenantID, "cust-1"), time.Now().UTC().Add(-100*time.Millisecond).Format(time.RFC3339Nano)))

	inWindow, err := tr.InWindow(context.Background(), env.tc, "cust-1")
	require.NoError(t, err)
	assert.False(t, inWindow)
}

func TestInWindow_FallsBackToPostgresOnCacheMiss(t *testing.T) {
	env := newWindowEnv(t)
	tr := New(env.rdb, 24*time.Hour, 5*time.Minute)

	require.NoError(t, tr.RecordInbound(context.Background(), env.tc, "cust-1"))
	env.mr.FlushAll() // simulate a Redis cache eviction/restart; Postgres is authoritative

	inWindow, err := tr.InWindow(context.Background(), env.tc, "cust-1")
	require.NoError(t, err)
	assert.True(t, inWindow)
}

func TestInWindow_PostgresFallbackHonorsExpiry(t *testing.T) {
	env := newWindowEnv(t)
	tr := New(env.rdb, 24*time.Hour, 5*time.Minute)

	stale := time.Now().UTC().Add(-25 * time.Hour)
	_, err := env.tc.Tx().Exec(context.Background(),
		`INSERT INTO window_states (tenant_id, customer_ref, last_inbound_at) VALUES ($1, $2, $3)`,
		env.tc.TenantID, "cust-1", stale)
	require.NoError(t, err)
	env.mr.FlushAll()

	inWindow, err := tr.InWindow(context.Background(), env.tc, "cust-1")
	require.NoError(t, err)
	assert.False(t, inWindow)
}

func TestInWindow_IsolatedPerCustomerRef(t *testing.T) {
	env := newWindowEnv(t)
	tr := New(env.rdb, 24*time.Hour, 5*time.Minute)

	require.NoError(t, tr.RecordInbound(context.Background(), env.tc, "cust-1"))

	inWindow, err := tr.InWindow(context.Background(), env.tc, "cust-2")
	require.NoError(t, err)
	assert.False(t, inWindow)
}
