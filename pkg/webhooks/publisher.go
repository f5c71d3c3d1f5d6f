package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ringline/relay/pkg/observability"
)

// PublishResult reports what a publish call did
type PublishResult struct {
	Event *Event `json:"event"`
	// Created is false when the event id was already in the log and the
	// call was a no-op
	Created bool `json:"created"`
	// Deliveries is the number of fan-out rows created
	Deliveries int `json:"deliveries"`
}

// Publisher appends events to the log and fans them out into delivery
// rows. Publish is idempotent on event id: replaying the same id never
// duplicates deliveries.
type Publisher struct {
	store   Store
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewPublisher creates an event publisher
func NewPublisher(store Store, metrics *observability.Metrics, logger *observability.Logger) *Publisher {
	return &Publisher{
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Publish appends the event and creates one pending delivery per
// matching active subscription. A caller-supplied event id makes the
// call idempotent; an empty id gets a fresh one.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, ownerID string, eventID string, payload json.RawMessage) (*PublishResult, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	if eventID == "" {
		eventID = uuid.New().String()
	}

	event := &Event{
		ID:        eventID,
		Type:      eventType,
		OwnerID:   ownerID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	created, err := p.store.InsertEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	if !created {
		existing, err := p.store.GetEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing event: %w", err)
		}
		return &PublishResult{Event: existing, Created: false}, nil
	}

	subs, err := p.store.ListActiveForEvent(ctx, eventType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to match subscriptions: %w", err)
	}

	now := event.CreatedAt
	deliveries := make([]*Delivery, 0, len(subs))
	for _, sub := range subs {
		nextAttempt := now
		deliveries = append(deliveries, &Delivery{
			ID:             uuid.New().String(),
			EventID:        event.ID,
			SubscriptionID: sub.ID,
			Status:         DeliveryStatusPending,
			NextAttemptAt:  &nextAttempt,
			EventTimestamp: event.CreatedAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if len(deliveries) > 0 {
		if err := p.store.CreateDeliveries(ctx, deliveries); err != nil {
			return nil, fmt.Errorf("failed to fan out deliveries: %w", err)
		}
	}

	if p.metrics != nil {
		p.metrics.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
		p.metrics.EventFanoutDeliveries.Observe(float64(len(deliveries)))
	}
	if p.logger != nil {
		p.logger.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(eventType),
			"deliveries": len(deliveries),
		}).Info("Event published")
	}

	return &PublishResult{Event: event, Created: true, Deliveries: len(deliveries)}, nil
}
