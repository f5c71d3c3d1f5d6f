package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringline/relay/pkg/observability"
)

func newTestPublisher(store Store) *Publisher {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewPublisher(store, nil, logger)
}

func activeSubscription(id, ownerID string, types ...EventType) *Subscription {
	return &Subscription{
		ID:         id,
		OwnerID:    ownerID,
		URL:        "https://example.com/hook",
		Secret:     "whsec_pub_test",
		EventTypes: types,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestPublisher_FanOut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateSubscription(ctx, activeSubscription("sub-match", "owner-1", EventRingEarned)))
	require.NoError(t, store.CreateSubscription(ctx, activeSubscription("sub-other-type", "owner-1", EventDraftCreated)))

	inactive := activeSubscription("sub-inactive", "owner-1", EventRingEarned)
	inactive.Active = false
	require.NoError(t, store.CreateSubscription(ctx, inactive))

	publisher := newTestPublisher(store)
	result, err := publisher.Publish(ctx, EventRingEarned, "owner-1", "evt-1", json.RawMessage(`{"ring":"gold"}`))
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, 1, result.Deliveries)
	assert.Equal(t, "evt-1", result.Event.ID)

	deliveries, err := store.ListBySubscription(ctx, "sub-match", 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusPending, deliveries[0].Status)
	assert.Equal(t, "evt-1", deliveries[0].EventID)
	require.NotNil(t, deliveries[0].NextAttemptAt)
	assert.Equal(t, result.Event.CreatedAt, deliveries[0].EventTimestamp)

	unmatched, err := store.ListBySubscription(ctx, "sub-other-type", 10)
	require.NoError(t, err)
	assert.Empty(t, unmatched)

	skipped, err := store.ListBySubscription(ctx, "sub-inactive", 10)
	require.NoError(t, err)
	assert.Empty(t, skipped)
}

func TestPublisher_IdempotentByEventID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateSubscription(ctx, activeSubscription("sub-1", "owner-1", EventLedgerUpdated)))

	publisher := newTestPublisher(store)

	first, err := publisher.Publish(ctx, EventLedgerUpdated, "owner-1", "evt-dup", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 1, first.Deliveries)

	second, err := publisher.Publish(ctx, EventLedgerUpdated, "owner-1", "evt-dup", json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Zero(t, second.Deliveries)

	// The log kept the first payload and no duplicate rows appeared
	event, err := store.GetEvent(ctx, "evt-dup")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(event.Payload))

	deliveries, err := store.ListBySubscription(ctx, "sub-1", 10)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestPublisher_OwnerScoping(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateSubscription(ctx, activeSubscription("sub-owner-a", "owner-a", EventStreakExtended)))
	require.NoError(t, store.CreateSubscription(ctx, activeSubscription("sub-owner-b", "owner-b", EventStreakExtended)))

	publisher := newTestPublisher(store)
	result, err := publisher.Publish(ctx, EventStreakExtended, "owner-a", "", json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deliveries)
	assert.NotEmpty(t, result.Event.ID, "empty event id gets generated")

	other, err := store.ListBySubscription(ctx, "sub-owner-b", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPublisher_RejectsUnknownEventType(t *testing.T) {
	publisher := newTestPublisher(NewMemoryStore())

	_, err := publisher.Publish(context.Background(), EventType("ring.invented"), "owner-1", "", nil)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}
