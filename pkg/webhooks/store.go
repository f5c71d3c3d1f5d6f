package webhooks

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription id does
	// not resolve for the requesting owner
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrEventNotFound is returned when an event id does not resolve
	ErrEventNotFound = errors.New("event not found")
	// ErrDeliveryNotFound is returned when a delivery id does not resolve
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrNotRequeueable is returned when requeue targets a delivery
	// that is not dead
	ErrNotRequeueable = errors.New("only dead deliveries can be requeued")
)

// SubscriptionStore persists webhook subscriptions
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	// GetSubscription resolves a subscription regardless of active
	// state; historical deliveries must still resolve soft-deleted rows
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// ListSubscriptions returns subscriptions for an owner; empty owner
	// returns all
	ListSubscriptions(ctx context.Context, ownerID string) ([]*Subscription, error)
	// ListActiveForEvent returns active subscriptions covering the event
	// type, scoped to ownerID when non-empty
	ListActiveForEvent(ctx context.Context, eventType EventType, ownerID string) ([]*Subscription, error)
	// DeactivateSubscription soft-deletes; non-empty ownerID restricts
	// the mutation to that owner's subscriptions
	DeactivateSubscription(ctx context.Context, id, ownerID string) error
	// TouchSubscriptionDelivered refreshes last_delivered_at
	TouchSubscriptionDelivered(ctx context.Context, id string, deliveredAt time.Time) error
}

// EventStore persists the append-only event log
type EventStore interface {
	// InsertEvent appends an event. Returns created=false without error
	// when the event id already exists; publish is idempotent.
	InsertEvent(ctx context.Context, event *Event) (created bool, err error)
	GetEvent(ctx context.Context, id string) (*Event, error)
}

// DeliveryStore persists delivery rows and implements the claim step
type DeliveryStore interface {
	CreateDeliveries(ctx context.Context, deliveries []*Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	// ClaimDue atomically selects up to limit due pending deliveries,
	// transitions them to delivering, and pre-increments their attempt
	// counters. Rows claimed by a concurrent worker are skipped, never
	// double-claimed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)
	// UpdateDelivery persists the outcome of an attempt
	UpdateDelivery(ctx context.Context, delivery *Delivery) error
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error)
	Stats(ctx context.Context, subscriptionID string) (DeliveryStats, error)
	// Requeue moves a dead delivery back to pending with an immediate
	// next attempt, preserving its attempt history
	Requeue(ctx context.Context, id string, now time.Time) (*Delivery, error)
}

// Store bundles the three webhook stores; implementations usually back
// all of them with the same database
type Store interface {
	SubscriptionStore
	EventStore
	DeliveryStore
}
