package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and database-less
// runs. A single mutex makes the claim step atomic: a delivery row is
// handed to exactly one caller of ClaimDue.
type MemoryStore struct {
	mu            sync.Mutex
	subscriptions map[string]*Subscription
	events        map[string]*Event
	deliveries    map[string]*Delivery
}

// NewMemoryStore creates an empty in-memory webhook store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*Subscription),
		events:        make(map[string]*Event),
		deliveries:    make(map[string]*Delivery),
	}
}

// CreateSubscription inserts a subscription
func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *sub
	s.subscriptions[sub.ID] = &cloned
	return nil
}

// GetSubscription resolves a subscription regardless of active state
func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cloned := *sub
	return &cloned, nil
}

// ListSubscriptions returns subscriptions for an owner
func (s *MemoryStore) ListSubscriptions(ctx context.Context, ownerID string) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Subscription
	for _, sub := range s.subscriptions {
		if ownerID != "" && sub.OwnerID != ownerID {
			continue
		}
		cloned := *sub
		result = append(result, &cloned)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListActiveForEvent returns active subscriptions covering the event type
func (s *MemoryStore) ListActiveForEvent(ctx context.Context, eventType EventType, ownerID string) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Subscription
	for _, sub := range s.subscriptions {
		if !sub.Active || !sub.WantsEvent(eventType) {
			continue
		}
		if ownerID != "" && sub.OwnerID != ownerID {
			continue
		}
		cloned := *sub
		result = append(result, &cloned)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeactivateSubscription soft-deletes a subscription
func (s *MemoryStore) DeactivateSubscription(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok || (ownerID != "" && sub.OwnerID != ownerID) {
		return ErrSubscriptionNotFound
	}
	now := time.Now().UTC()
	sub.Active = false
	sub.DeletedAt = &now
	return nil
}

// TouchSubscriptionDelivered refreshes last_delivered_at
func (s *MemoryStore) TouchSubscriptionDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.LastDeliveredAt = &deliveredAt
	return nil
}

// InsertEvent appends an event, idempotently by id
func (s *MemoryStore) InsertEvent(ctx context.Context, event *Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return false, nil
	}
	cloned := *event
	s.events[event.ID] = &cloned
	return true, nil
}

// GetEvent resolves an event by id
func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cloned := *event
	return &cloned, nil
}

// CreateDeliveries inserts fan-out rows
func (s *MemoryStore) CreateDeliveries(ctx context.Context, deliveries []*Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, delivery := range deliveries {
		cloned := *delivery
		s.deliveries[delivery.ID] = &cloned
	}
	return nil
}

// GetDelivery resolves a delivery by id
func (s *MemoryStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	cloned := *delivery
	return &cloned, nil
}

// ClaimDue atomically claims up to limit due deliveries
func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Delivery
	for _, delivery := range s.deliveries {
		if delivery.Status != DeliveryStatusPending {
			continue
		}
		if delivery.NextAttemptAt == nil || delivery.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, delivery)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Delivery, 0, len(due))
	for _, delivery := range due {
		delivery.Status = DeliveryStatusDelivering
		delivery.Attempts++
		delivery.UpdatedAt = now
		cloned := *delivery
		claimed = append(claimed, &cloned)
	}
	return claimed, nil
}

// UpdateDelivery persists the outcome of an attempt
func (s *MemoryStore) UpdateDelivery(ctx context.Context, delivery *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[delivery.ID]; !ok {
		return ErrDeliveryNotFound
	}
	cloned := *delivery
	s.deliveries[delivery.ID] = &cloned
	return nil
}

// ListBySubscription returns recent deliveries for a subscription
func (s *MemoryStore) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Delivery
	for _, delivery := range s.deliveries {
		if delivery.SubscriptionID != subscriptionID {
			continue
		}
		cloned := *delivery
		result = append(result, &cloned)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats aggregates delivery outcomes for a subscription
func (s *MemoryStore) Stats(ctx context.Context, subscriptionID string) (DeliveryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := DeliveryStats{SubscriptionID: subscriptionID}
	for _, delivery := range s.deliveries {
		if delivery.SubscriptionID != subscriptionID {
			continue
		}
		stats.Total++
		switch delivery.Status {
		case DeliveryStatusSucceeded:
			stats.Succeeded++
		case DeliveryStatusPending, DeliveryStatusDelivering:
			stats.Pending++
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusDead:
			stats.Dead++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	return stats, nil
}

// Requeue moves a dead delivery back to pending
func (s *MemoryStore) Requeue(ctx context.Context, id string, now time.Time) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivery, ok := s.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	if delivery.Status != DeliveryStatusDead {
		return nil, ErrNotRequeueable
	}

	delivery.Status = DeliveryStatusPending
	delivery.NextAttemptAt = &now
	delivery.LastError = ""
	delivery.UpdatedAt = now

	cloned := *delivery
	return &cloned, nil
}
