package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements bootstrap the relay tables. Statements are
// idempotent so startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id        TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		secret_hash   TEXT NOT NULL,
		secret_prefix TEXT NOT NULL,
		scopes        TEXT[] NOT NULL DEFAULT '{}',
		tier          TEXT NOT NULL,
		canary        BOOLEAN NOT NULL DEFAULT FALSE,
		ip_allowlist  TEXT[] NOT NULL DEFAULT '{}',
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at    TIMESTAMPTZ,
		last_used_at  TIMESTAMPTZ,
		rotated_at    TIMESTAMPTZ,
		revoked_at    TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_active ON api_keys (active) WHERE active`,

	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id                TEXT PRIMARY KEY,
		owner_id          TEXT NOT NULL,
		url               TEXT NOT NULL,
		secret            TEXT NOT NULL,
		event_types       TEXT[] NOT NULL,
		active            BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_delivered_at TIMESTAMPTZ,
		deleted_at        TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_owner ON webhook_subscriptions (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_active ON webhook_subscriptions (active) WHERE active`,

	`CREATE TABLE IF NOT EXISTS webhook_events (
		id         TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		owner_id   TEXT NOT NULL DEFAULT '',
		payload    JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_type ON webhook_events (event_type)`,

	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id               TEXT PRIMARY KEY,
		event_id         TEXT NOT NULL REFERENCES webhook_events (id),
		subscription_id  TEXT NOT NULL REFERENCES webhook_subscriptions (id),
		status           TEXT NOT NULL,
		attempts         INTEGER NOT NULL DEFAULT 0,
		last_status_code INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		next_attempt_at  TIMESTAMPTZ,
		event_timestamp  TIMESTAMPTZ NOT NULL,
		delivered_at     TIMESTAMPTZ,
		duration_ms      BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due
		ON webhook_deliveries (next_attempt_at)
		WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_subscription
		ON webhook_deliveries (subscription_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS rate_limit_windows (
		key_id        TEXT NOT NULL,
		window_start  TIMESTAMPTZ NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (key_id, window_start)
	)`,
}

// Bootstrap creates the relay schema if it does not exist
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}
