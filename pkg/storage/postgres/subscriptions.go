package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ringline/relay/pkg/webhooks"
)

// WebhookStore persists subscriptions, the event log, and delivery
// rows in PostgreSQL. It implements webhooks.Store.
type WebhookStore struct {
	db *sql.DB
}

// NewWebhookStore creates a PostgreSQL webhook store
func NewWebhookStore(db *sql.DB) *WebhookStore {
	return &WebhookStore{db: db}
}

const subscriptionColumns = `id, owner_id, url, secret, event_types, active,
	created_at, last_delivered_at, deleted_at`

// CreateSubscription inserts a subscription
func (s *WebhookStore) CreateSubscription(ctx context.Context, sub *webhooks.Subscription) error {
	query := `
		INSERT INTO webhook_subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		sub.ID,
		sub.OwnerID,
		sub.URL,
		sub.Secret,
		pq.Array(eventTypesToStrings(sub.EventTypes)),
		sub.Active,
		sub.CreatedAt,
		sub.LastDeliveredAt,
		sub.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription resolves a subscription regardless of active state
func (s *WebhookStore) GetSubscription(ctx context.Context, id string) (*webhooks.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns subscriptions for an owner; empty owner
// returns all
func (s *WebhookStore) ListSubscriptions(ctx context.Context, ownerID string) ([]*webhooks.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListActiveForEvent returns active subscriptions covering the event
// type
func (s *WebhookStore) ListActiveForEvent(ctx context.Context, eventType webhooks.EventType, ownerID string) ([]*webhooks.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions
		WHERE active AND $1 = ANY(event_types)
		AND ($2 = '' OR owner_id = $2)
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, string(eventType), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to match subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// DeactivateSubscription soft-deletes a subscription
func (s *WebhookStore) DeactivateSubscription(ctx context.Context, id, ownerID string) error {
	query := `
		UPDATE webhook_subscriptions
		SET active = FALSE, deleted_at = NOW()
		WHERE id = $1 AND ($2 = '' OR owner_id = $2)
	`

	result, err := s.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return webhooks.ErrSubscriptionNotFound
	}
	return nil
}

// TouchSubscriptionDelivered refreshes last_delivered_at
func (s *WebhookStore) TouchSubscriptionDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	query := `UPDATE webhook_subscriptions SET last_delivered_at = $2 WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, deliveredAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription delivery time: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return webhooks.ErrSubscriptionNotFound
	}
	return nil
}

func scanSubscription(row rowScanner) (*webhooks.Subscription, error) {
	var sub webhooks.Subscription
	var eventTypes pq.StringArray

	err := row.Scan(
		&sub.ID,
		&sub.OwnerID,
		&sub.URL,
		&sub.Secret,
		&eventTypes,
		&sub.Active,
		&sub.CreatedAt,
		&sub.LastDeliveredAt,
		&sub.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.EventTypes = stringsToEventTypes(eventTypes)
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*webhooks.Subscription, error) {
	var subs []*webhooks.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

func eventTypesToStrings(types []webhooks.EventType) []string {
	result := make([]string, len(types))
	for i, t := range types {
		result[i] = string(t)
	}
	return result
}

func stringsToEventTypes(values []string) []webhooks.EventType {
	result := make([]webhooks.EventType, len(values))
	for i, v := range values {
		result[i] = webhooks.EventType(v)
	}
	return result
}
