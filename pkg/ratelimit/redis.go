package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrementScript performs the conditional increment server-side so the
// ceiling holds under concurrent callers across instances. Returns
// {admitted, count}.
var incrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

// RedisLimiter is a Redis-backed Limiter shared across instances
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	// FailOpen controls behavior on Redis errors: admit (true, the
	// default, to avoid turning a cache outage into an API outage) or
	// deny.
	FailOpen bool
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		now:      time.Now,
		FailOpen: true,
	}
}

// SetClock overrides the limiter's clock, for tests
func (l *RedisLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// CheckAndIncrement implements Limiter
func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, keyID string, limit int) (Result, error) {
	windowStart := WindowStart(l.now())
	resetAt := windowStart.Add(time.Hour)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, keyID, windowStart.Unix())

	// Expire shortly after the window closes; the window key embeds the
	// start so a late expiry can never bleed into the next hour.
	ttl := time.Until(resetAt) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}

	result := Result{
		Limit:   limit,
		ResetAt: resetAt,
	}

	values, err := incrementScript.Run(ctx, l.client, []string{redisKey}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		if l.FailOpen {
			result.Allowed = true
			return result, fmt.Errorf("redis error: %w", err)
		}
		return result, fmt.Errorf("redis error: %w", err)
	}
	if len(values) != 2 {
		return result, fmt.Errorf("unexpected script result: %v", values)
	}

	result.Allowed = values[0] == 1
	result.Count = int(values[1])
	return result, nil
}

// Reset clears the current window for a key (admin/testing use)
func (l *RedisLimiter) Reset(ctx context.Context, keyID string) error {
	windowStart := WindowStart(l.now())
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, keyID, windowStart.Unix())
	return l.client.Del(ctx, redisKey).Err()
}
