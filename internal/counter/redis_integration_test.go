//go:build integration

package counter

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisAddr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start redis container: %v\n", err)
		os.Exit(1)
	}

	redisAddr, err = container.Endpoint(ctx, "")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "redis endpoint: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// setupRedis возвращает счётчики с уникальным префиксом и сырой клиент.
func setupRedis(t *testing.T) (*Redis, *redis.Client, string) {
	t.Helper()
	prefix := "test:" + uuid.NewString() + ":"
	r, err := NewRedis(context.Background(), RedisConfig{Addr: redisAddr, Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	raw := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = raw.Close() })
	return r, raw, prefix
}

func TestRedis_GetMissingIsZero(t *testing.T) {
	r, _, _ := setupRedis(t)

	v, err := r.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestRedis_IncrementKeepsFirstTTL(t *testing.T) {
	ctx := context.Background()
	r, raw, prefix := setupRedis(t)

	v, err := r.IncrementWithExpiry(ctx, "cb:email:failures", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = r.IncrementWithExpiry(ctx, "cb:email:failures", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	ttl, err := raw.PTTL(ctx, prefix+"cb:email:failures").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 10*time.Second, "a later increment must not extend the window")
}

func TestRedis_IncrementWindowExpires(t *testing.T) {
	ctx := context.Background()
	r, _, _ := setupRedis(t)

	for range 3 {
		_, err := r.IncrementWithExpiry(ctx, "rl:email:second", 300*time.Millisecond)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		v, err := r.Get(ctx, "rl:email:second")
		return err == nil && v == 0
	}, 3*time.Second, 50*time.Millisecond)

	v, err := r.IncrementWithExpiry(ctx, "rl:email:second", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "an expired key starts a new window")
}

func TestRedis_SetDelete(t *testing.T) {
	ctx := context.Background()
	r, raw, prefix := setupRedis(t)

	require.NoError(t, r.Set(ctx, "cb:sms:opened_at", 1709294400000, 0))
	v, err := r.Get(ctx, "cb:sms:opened_at")
	require.NoError(t, err)
	assert.Equal(t, int64(1709294400000), v)

	ttl, err := raw.PTTL(ctx, prefix+"cb:sms:opened_at").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "zero ttl stores the key without expiry")

	require.NoError(t, r.Set(ctx, "cb:sms:failures", 2, time.Minute))
	ttl, err = raw.PTTL(ctx, prefix+"cb:sms:failures").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, r.Delete(ctx, "cb:sms:opened_at", "cb:sms:failures"))
	v, _ = r.Get(ctx, "cb:sms:opened_at")
	assert.Zero(t, v)
	v, _ = r.Get(ctx, "cb:sms:failures")
	assert.Zero(t, v)

	assert.NoError(t, r.Delete(ctx))
}

func TestRedis_PrefixIsolatesKeys(t *testing.T) {
	ctx := context.Background()
	a, raw, prefix := setupRedis(t)
	b, _, _ := setupRedis(t)

	_, err := a.IncrementWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = a.IncrementWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)

	v, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, v, "counters with another prefix are independent")

	stored, err := raw.Get(ctx, prefix+"k").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored)

	exists, err := raw.Exists(ctx, "k").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "unprefixed key is never written")
}
