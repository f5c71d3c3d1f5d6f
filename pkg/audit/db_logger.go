package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBLogger appends audit entries to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures its
// table exists
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		action VARCHAR(100) NOT NULL,
		actor_id VARCHAR(255),
		target_id VARCHAR(255) NOT NULL,
		client_ip VARCHAR(45),
		detail JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_target ON audit_logs(target_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log appends an entry
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (action, actor_id, target_id, client_ip, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var detail interface{}
	if len(entry.Detail) > 0 {
		detail = []byte(entry.Detail)
	}

	err := l.db.QueryRowContext(ctx, query,
		string(entry.Action),
		entry.ActorID,
		entry.TargetID,
		entry.ClientIP,
		detail,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// List returns recent entries, newest first, optionally filtered by
// action
func (l *DBLogger) List(ctx context.Context, action Action, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, action, actor_id, target_id, client_ip, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR action = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := l.db.QueryContext(ctx, query, string(action), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var action string
		var actorID, clientIP sql.NullString
		var detail []byte
		if err := rows.Scan(&entry.ID, &action, &actorID, &entry.TargetID, &clientIP, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Action = Action(action)
		entry.ActorID = actorID.String
		entry.ClientIP = clientIP.String
		entry.Detail = detail
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
