// Package ratelimit enforces hourly per-key request quotas.
//
// Windows are aligned to wall-clock hour boundaries, not sliding. The
// increment-with-ceiling must be atomic under concurrent callers: an
// admission check either increments and admits while the count is
// below the limit, or observes the current count without mutating it
// and denies. The observed count therefore never exceeds the limit.
package ratelimit

import (
	"context"
	"time"
)

// Result reports the outcome of an admission check
type Result struct {
	Allowed bool      `json:"allowed"`
	Count   int       `json:"current_count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Remaining returns how many requests are left in the window
func (r Result) Remaining() int {
	remaining := r.Limit - r.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limiter admits or denies a request for a key against an hourly limit
type Limiter interface {
	// CheckAndIncrement atomically increments the key's counter for the
	// current hour window if and only if it is below limit, and reports
	// the admission decision.
	CheckAndIncrement(ctx context.Context, keyID string, limit int) (Result, error)
}

// WindowStart floors a time to its hour boundary in UTC
func WindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour)
}
