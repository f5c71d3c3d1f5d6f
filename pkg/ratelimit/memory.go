package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowKey struct {
	keyID       string
	windowStart int64
}

// MemoryLimiter is an in-process Limiter for tests and single-instance
// runs. The mutex makes check-and-increment atomic; multi-instance
// deployments need the Postgres or Redis limiter instead.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[windowKey]int
	now     func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[windowKey]int),
		now:     time.Now,
	}
}

// SetClock overrides the limiter's clock, for tests
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// CheckAndIncrement implements Limiter
func (l *MemoryLimiter) CheckAndIncrement(ctx context.Context, keyID string, limit int) (Result, error) {
	windowStart := WindowStart(l.now())
	key := windowKey{keyID: keyID, windowStart: windowStart.Unix()}

	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.windows[key]
	result := Result{
		Limit:   limit,
		ResetAt: windowStart.Add(time.Hour),
	}

	if count >= limit {
		result.Count = count
		return result, nil
	}

	count++
	l.windows[key] = count
	result.Allowed = true
	result.Count = count
	return result, nil
}

// Purge drops windows that ended before the current one. Called
// periodically to bound memory.
func (l *MemoryLimiter) Purge() {
	current := WindowStart(l.now()).Unix()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.windows {
		if key.windowStart < current {
			delete(l.windows, key)
		}
	}
}
