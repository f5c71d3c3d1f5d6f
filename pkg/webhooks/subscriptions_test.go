package webhooks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistry_Create(t *testing.T) {
	registry := NewSubscriptionRegistry(NewMemoryStore())
	ctx := context.Background()

	sub, err := registry.Create(ctx, "owner-1", "https://example.com/hook", []EventType{EventRingEarned, EventRingRevoked})
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.True(t, sub.Active)
	assert.Equal(t, "owner-1", sub.OwnerID)
	assert.True(t, strings.HasPrefix(sub.Secret, "whsec_"))
	assert.Greater(t, len(sub.Secret), len("whsec_")+32)
}

func TestSubscriptionRegistry_CreateValidation(t *testing.T) {
	registry := NewSubscriptionRegistry(NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		types   []EventType
		wantErr error
	}{
		{"relative url", "/hook", []EventType{EventRingEarned}, ErrInvalidURL},
		{"bad scheme", "ftp://example.com/hook", []EventType{EventRingEarned}, ErrInvalidURL},
		{"no host", "https://", []EventType{EventRingEarned}, ErrInvalidURL},
		{"no event types", "https://example.com/hook", nil, ErrNoEventTypes},
		{"unknown event type", "https://example.com/hook", []EventType{"ring.invented"}, ErrUnknownEventType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Create(ctx, "owner-1", tt.url, tt.types)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubscriptionRegistry_SecretsAreUnique(t *testing.T) {
	registry := NewSubscriptionRegistry(NewMemoryStore())
	ctx := context.Background()

	first, err := registry.Create(ctx, "owner-1", "https://example.com/a", []EventType{EventRingEarned})
	require.NoError(t, err)
	second, err := registry.Create(ctx, "owner-1", "https://example.com/b", []EventType{EventRingEarned})
	require.NoError(t, err)

	assert.NotEqual(t, first.Secret, second.Secret)
}

func TestSubscriptionRegistry_OwnerScoping(t *testing.T) {
	registry := NewSubscriptionRegistry(NewMemoryStore())
	ctx := context.Background()

	sub, err := registry.Create(ctx, "owner-a", "https://example.com/hook", []EventType{EventRingEarned})
	require.NoError(t, err)

	_, err = registry.Get(ctx, sub.ID, "owner-b")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	err = registry.Delete(ctx, sub.ID, "owner-b")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	got, err := registry.Get(ctx, sub.ID, "owner-a")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestSubscriptionRegistry_SoftDelete(t *testing.T) {
	store := NewMemoryStore()
	registry := NewSubscriptionRegistry(store)
	ctx := context.Background()

	sub, err := registry.Create(ctx, "owner-1", "https://example.com/hook", []EventType{EventEnforcementFlagged})
	require.NoError(t, err)

	require.NoError(t, registry.Delete(ctx, sub.ID, "owner-1"))

	// The row survives for historical delivery lookups
	got, err := registry.Get(ctx, sub.ID, "owner-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.DeletedAt)

	// But it no longer matches future events
	matched, err := store.ListActiveForEvent(ctx, EventEnforcementFlagged, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMemoryStore_Requeue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	dead := &Delivery{
		ID:             "del-dead",
		EventID:        "evt-1",
		SubscriptionID: "sub-1",
		Status:         DeliveryStatusDead,
		Attempts:       3,
		LastError:      "endpoint returned status 500",
		EventTimestamp: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateDeliveries(ctx, []*Delivery{dead}))

	requeued, err := store.Requeue(ctx, "del-dead", now)
	require.NoError(t, err)
	assert.Equal(t, DeliveryStatusPending, requeued.Status)
	assert.Equal(t, 3, requeued.Attempts, "attempt history is preserved")
	assert.Empty(t, requeued.LastError)
	require.NotNil(t, requeued.NextAttemptAt)

	// Only dead deliveries can be requeued
	_, err = store.Requeue(ctx, "del-dead", now)
	assert.ErrorIs(t, err, ErrNotRequeueable)

	_, err = store.Requeue(ctx, "del-missing", now)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}
