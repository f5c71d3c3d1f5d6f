package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ringline/relay/pkg/webhooks"
)

// InsertEvent appends an event to the log. ON CONFLICT DO NOTHING
// makes publish idempotent on event id.
func (s *WebhookStore) InsertEvent(ctx context.Context, event *webhooks.Event) (bool, error) {
	query := `
		INSERT INTO webhook_events (id, event_type, owner_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.OwnerID,
		[]byte(event.Payload),
		event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check event insert: %w", err)
	}
	return affected > 0, nil
}

// GetEvent resolves an event by id
func (s *WebhookStore) GetEvent(ctx context.Context, id string) (*webhooks.Event, error) {
	query := `SELECT id, event_type, owner_id, payload, created_at FROM webhook_events WHERE id = $1`

	var event webhooks.Event
	var eventType string
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&eventType,
		&event.OwnerID,
		&payload,
		&event.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	event.Type = webhooks.EventType(eventType)
	event.Payload = payload
	return &event, nil
}
