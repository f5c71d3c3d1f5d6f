package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLimiter(client, "test:ratelimit"), mr
}

func TestRedisLimiter_Ceiling(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	base := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return base })
	ctx := context.Background()

	const limit = 5
	for i := 1; i <= limit; i++ {
		res, err := limiter.CheckAndIncrement(ctx, "key-1", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Count)
	}

	res, err := limiter.CheckAndIncrement(ctx, "key-1", limit)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, limit, res.Count)
	assert.Equal(t, 0, res.Remaining())
}

func TestRedisLimiter_WindowKeyEmbedsStart(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := limiter.CheckAndIncrement(ctx, "key-1", 10)
	require.NoError(t, err)

	windowStart := WindowStart(now).Unix()
	expected := fmt.Sprintf("test:ratelimit:key-1:%d", windowStart)
	assert.True(t, mr.Exists(expected))

	// The key carries a TTL so abandoned windows expire on their own
	assert.Greater(t, mr.TTL(expected), time.Duration(0))
}

func TestRedisLimiter_WindowRollover(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	now := time.Date(2026, 3, 14, 10, 59, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return now })
	ctx := context.Background()

	res, err := limiter.CheckAndIncrement(ctx, "key-1", 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.CheckAndIncrement(ctx, "key-1", 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	now = now.Add(time.Hour)
	res, err = limiter.CheckAndIncrement(ctx, "key-1", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
}

func TestRedisLimiter_Reset(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	res, err := limiter.CheckAndIncrement(ctx, "key-1", 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	require.NoError(t, limiter.Reset(ctx, "key-1"))

	res, err = limiter.CheckAndIncrement(ctx, "key-1", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_FailOpen(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	ctx := context.Background()

	mr.Close()

	res, err := limiter.CheckAndIncrement(ctx, "key-1", 1)
	assert.Error(t, err)
	assert.True(t, res.Allowed, "redis outage admits by default")

	limiter.FailOpen = false
	res, err = limiter.CheckAndIncrement(ctx, "key-1", 1)
	assert.Error(t, err)
	assert.False(t, res.Allowed)
}
