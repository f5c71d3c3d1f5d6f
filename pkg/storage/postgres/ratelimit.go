package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ringline/relay/pkg/ratelimit"
)

// RateLimiter enforces hourly quotas with a conditional upsert. The
// WHERE clause on the upsert stops the counter at the limit, so a
// denied request never inflates the count.
type RateLimiter struct {
	db *sql.DB

	// now is swappable for tests
	now func() time.Time
}

// NewRateLimiter creates a PostgreSQL-backed rate limiter
func NewRateLimiter(db *sql.DB) *RateLimiter {
	return &RateLimiter{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the limiter clock, for tests
func (l *RateLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// CheckAndIncrement atomically admits and counts a request for the
// current hour window
func (l *RateLimiter) CheckAndIncrement(ctx context.Context, keyID string, limit int) (ratelimit.Result, error) {
	windowStart := ratelimit.WindowStart(l.now())
	result := ratelimit.Result{
		Limit:   limit,
		ResetAt: windowStart.Add(time.Hour),
	}

	// The upsert increments only while the stored count is below the
	// limit; at the ceiling it matches no row and returns nothing
	query := `
		INSERT INTO rate_limit_windows (key_id, window_start, request_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key_id, window_start)
		DO UPDATE SET request_count = rate_limit_windows.request_count + 1
		WHERE rate_limit_windows.request_count < $3
		RETURNING request_count
	`

	var count int
	err := l.db.QueryRowContext(ctx, query, keyID, windowStart, limit).Scan(&count)
	if err == nil {
		result.Allowed = count <= limit
		result.Count = count
		return result, nil
	}
	if err != sql.ErrNoRows {
		return result, fmt.Errorf("failed to check rate limit: %w", err)
	}

	// Ceiling hit; re-read the untouched count
	readQuery := `SELECT request_count FROM rate_limit_windows WHERE key_id = $1 AND window_start = $2`
	if err := l.db.QueryRowContext(ctx, readQuery, keyID, windowStart).Scan(&count); err != nil {
		return result, fmt.Errorf("failed to read rate limit count: %w", err)
	}

	result.Allowed = false
	result.Count = count
	return result, nil
}

// PurgeBefore deletes windows that started before the cutoff. Run
// periodically; expired windows are dead weight once their hour has
// passed.
func (l *RateLimiter) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge rate limit windows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged windows: %w", err)
	}
	return affected, nil
}
