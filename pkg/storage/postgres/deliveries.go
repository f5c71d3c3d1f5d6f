package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ringline/relay/pkg/webhooks"
)

const deliveryColumns = `id, event_id, subscription_id, status, attempts, last_status_code,
	last_error, next_attempt_at, event_timestamp, delivered_at, duration_ms, created_at, updated_at`

// CreateDeliveries inserts fan-out rows in a single transaction
func (s *WebhookStore) CreateDeliveries(ctx context.Context, deliveries []*webhooks.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delivery insert: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, d := range deliveries {
		_, err := tx.ExecContext(ctx, query,
			d.ID,
			d.EventID,
			d.SubscriptionID,
			string(d.Status),
			d.Attempts,
			d.LastStatusCode,
			d.LastError,
			d.NextAttemptAt,
			d.EventTimestamp,
			d.DeliveredAt,
			d.Duration.Milliseconds(),
			d.CreatedAt,
			d.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert delivery: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery insert: %w", err)
	}
	return nil
}

// GetDelivery resolves a delivery by id
func (s *WebhookStore) GetDelivery(ctx context.Context, id string) (*webhooks.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	delivery, err := scanDelivery(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return delivery, nil
}

// ClaimDue claims up to limit due pending deliveries. FOR UPDATE SKIP
// LOCKED lets concurrent workers claim disjoint batches without
// blocking each other.
func (s *WebhookStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*webhooks.Delivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = $3 AND next_attempt_at IS NOT NULL AND next_attempt_at <= $2
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	rows, err := s.db.QueryContext(ctx, query,
		string(webhooks.DeliveryStatusDelivering),
		now,
		string(webhooks.DeliveryStatusPending),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// UpdateDelivery persists the outcome of an attempt
func (s *WebhookStore) UpdateDelivery(ctx context.Context, delivery *webhooks.Delivery) error {
	query := `
		UPDATE webhook_deliveries SET
			status = $2, attempts = $3, last_status_code = $4, last_error = $5,
			next_attempt_at = $6, delivered_at = $7, duration_ms = $8, updated_at = $9
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		delivery.ID,
		string(delivery.Status),
		delivery.Attempts,
		delivery.LastStatusCode,
		delivery.LastError,
		delivery.NextAttemptAt,
		delivery.DeliveredAt,
		delivery.Duration.Milliseconds(),
		delivery.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return webhooks.ErrDeliveryNotFound
	}
	return nil
}

// ListBySubscription returns recent deliveries for a subscription
func (s *WebhookStore) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*webhooks.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// Stats aggregates delivery outcomes for a subscription
func (s *WebhookStore) Stats(ctx context.Context, subscriptionID string) (webhooks.DeliveryStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status IN ('pending', 'delivering')),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'dead')
		FROM webhook_deliveries
		WHERE subscription_id = $1
	`

	stats := webhooks.DeliveryStats{SubscriptionID: subscriptionID}
	err := s.db.QueryRowContext(ctx, query, subscriptionID).Scan(
		&stats.Total,
		&stats.Succeeded,
		&stats.Pending,
		&stats.Failed,
		&stats.Dead,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	return stats, nil
}

// Requeue moves a dead delivery back to pending with an immediate next
// attempt
func (s *WebhookStore) Requeue(ctx context.Context, id string, now time.Time) (*webhooks.Delivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, next_attempt_at = $3, last_error = '', updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + deliveryColumns

	delivery, err := scanDelivery(s.db.QueryRowContext(ctx, query,
		id,
		string(webhooks.DeliveryStatusPending),
		now,
		string(webhooks.DeliveryStatusDead),
	))
	if err == sql.ErrNoRows {
		// Distinguish a missing row from a live one
		if _, getErr := s.GetDelivery(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, webhooks.ErrNotRequeueable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue delivery: %w", err)
	}
	return delivery, nil
}

func scanDelivery(row rowScanner) (*webhooks.Delivery, error) {
	var delivery webhooks.Delivery
	var status string
	var durationMs int64

	err := row.Scan(
		&delivery.ID,
		&delivery.EventID,
		&delivery.SubscriptionID,
		&status,
		&delivery.Attempts,
		&delivery.LastStatusCode,
		&delivery.LastError,
		&delivery.NextAttemptAt,
		&delivery.EventTimestamp,
		&delivery.DeliveredAt,
		&durationMs,
		&delivery.CreatedAt,
		&delivery.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	delivery.Status = webhooks.DeliveryStatus(status)
	delivery.Duration = time.Duration(durationMs) * time.Millisecond
	return &delivery, nil
}

func scanDeliveries(rows *sql.Rows) ([]*webhooks.Delivery, error) {
	var deliveries []*webhooks.Delivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return deliveries, nil
}
