package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/webhooks"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestBootstrap(t *testing.T) {
	db, mock := newMockDB(t)

	for range schemaStatements {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err := Bootstrap(context.Background(), db)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookStore_InsertEventIdempotent(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWebhookStore(db)
	event := &webhooks.Event{
		ID:        "evt-1",
		Type:      webhooks.EventRingEarned,
		CreatedAt: time.Now().UTC(),
	}

	// First insert lands a row
	mock.ExpectExec("INSERT INTO webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := store.InsertEvent(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, created)

	// Conflict on id affects zero rows, reported as created=false
	mock.ExpectExec("INSERT INTO webhook_events").WillReturnResult(sqlmock.NewResult(0, 0))
	created, err = store.InsertEvent(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func deliveryRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "event_id", "subscription_id", "status", "attempts", "last_status_code",
		"last_error", "next_attempt_at", "event_timestamp", "delivered_at", "duration_ms",
		"created_at", "updated_at",
	}).AddRow(
		"del-1", "evt-1", "sub-1", "delivering", 1, 0,
		"", now, now, nil, int64(0),
		now, now,
	)
}

func TestWebhookStore_ClaimDue(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWebhookStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE webhook_deliveries").
		WithArgs("delivering", now, "pending", 50).
		WillReturnRows(deliveryRows(now))

	claimed, err := store.ClaimDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "del-1", claimed[0].ID)
	assert.Equal(t, webhooks.DeliveryStatusDelivering, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookStore_RequeueOnlyDead(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWebhookStore(db)
	now := time.Now().UTC()

	// The conditional update misses because the row is not dead, then
	// the existence check finds a live row
	mock.ExpectQuery("UPDATE webhook_deliveries").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM webhook_deliveries WHERE id").
		WillReturnRows(deliveryRows(now))

	_, err := store.Requeue(context.Background(), "del-1", now)
	assert.ErrorIs(t, err, webhooks.ErrNotRequeueable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_AdmitsAndIncrements(t *testing.T) {
	db, mock := newMockDB(t)
	limiter := NewRateLimiter(db)

	mock.ExpectQuery("INSERT INTO rate_limit_windows").
		WillReturnRows(sqlmock.NewRows([]string{"request_count"}).AddRow(5))

	result, err := limiter.CheckAndIncrement(context.Background(), "key-1", 100)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 5, result.Count)
	assert.Equal(t, 95, result.Remaining())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_DeniesAtCeiling(t *testing.T) {
	db, mock := newMockDB(t)
	limiter := NewRateLimiter(db)

	// The conditional upsert matches nothing at the ceiling; the count
	// is re-read without mutation
	mock.ExpectQuery("INSERT INTO rate_limit_windows").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT request_count FROM rate_limit_windows").
		WillReturnRows(sqlmock.NewRows([]string{"request_count"}).AddRow(100))

	result, err := limiter.CheckAndIncrement(context.Background(), "key-1", 100)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 100, result.Count)
	assert.Zero(t, result.Remaining())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_PurgeBefore(t *testing.T) {
	db, mock := newMockDB(t)
	limiter := NewRateLimiter(db)

	mock.ExpectExec("DELETE FROM rate_limit_windows").
		WillReturnResult(sqlmock.NewResult(0, 7))

	purged, err := limiter.PurgeBefore(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(7), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_GetKeyNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKeyStore(db)

	mock.ExpectQuery("SELECT (.+) FROM api_keys").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetKey(context.Background(), "missing")
	assert.ErrorIs(t, err, apikeys.ErrKeyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookStore_DeactivateSubscriptionNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWebhookStore(db)

	mock.ExpectExec("UPDATE webhook_subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeactivateSubscription(context.Background(), "missing", "owner-1")
	assert.ErrorIs(t, err, webhooks.ErrSubscriptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
