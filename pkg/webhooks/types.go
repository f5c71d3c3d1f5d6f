package webhooks

import (
	"encoding/json"
	"time"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventRingEarned         EventType = "ring.earned"
	EventRingRevoked        EventType = "ring.revoked"
	EventDraftCreated       EventType = "draft.created"
	EventDraftSubmitted     EventType = "draft.submitted"
	EventStreakExtended     EventType = "streak.extended"
	EventStreakBroken       EventType = "streak.broken"
	EventLedgerUpdated      EventType = "ledger.updated"
	EventEnforcementFlagged EventType = "enforcement.flagged"
)

// AllEventTypes is the closed enumeration of publishable event types
var AllEventTypes = []EventType{
	EventRingEarned,
	EventRingRevoked,
	EventDraftCreated,
	EventDraftSubmitted,
	EventStreakExtended,
	EventStreakBroken,
	EventLedgerUpdated,
	EventEnforcementFlagged,
}

// Valid reports whether the event type is part of the closed enumeration
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is an immutable published domain event. The payload is opaque
// JSON owned by the publishing business code.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Subscription represents a registered webhook endpoint
type Subscription struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"owner_id"`
	URL             string      `json:"url"`
	Secret          string      `json:"-"`
	EventTypes      []EventType `json:"events"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
	LastDeliveredAt *time.Time  `json:"last_delivered_at,omitempty"`
	DeletedAt       *time.Time  `json:"deleted_at,omitempty"`
}

// WantsEvent reports whether the subscription covers the event type
func (s *Subscription) WantsEvent(eventType EventType) bool {
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus represents the state of a delivery
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusDelivering DeliveryStatus = "delivering"
	DeliveryStatusSucceeded  DeliveryStatus = "succeeded"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusDead       DeliveryStatus = "dead"
)

// Terminal reports whether no further transition leaves the status.
// Failed is terminal: it is only reached through the replay guard,
// where resending would reuse an already-stale signature window.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSucceeded || s == DeliveryStatusFailed || s == DeliveryStatusDead
}

// ErrReplayExpired is the terminal error recorded when a delivery falls
// outside the replay window before it could be sent
const ErrReplayExpired = "REPLAY_EXPIRED"

// maxStoredErrorLen bounds recorded error text so oversized or binary
// response bodies never bloat delivery rows
const maxStoredErrorLen = 512

// truncateError clips an error message for storage
func truncateError(message string) string {
	if len(message) <= maxStoredErrorLen {
		return message
	}
	return message[:maxStoredErrorLen]
}

// Delivery is one attempted transmission of one event to one
// subscription. Rows are created at fan-out time and never deleted.
type Delivery struct {
	ID             string         `json:"id"`
	EventID        string         `json:"event_id"`
	SubscriptionID string         `json:"subscription_id"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	LastStatusCode int            `json:"last_status_code,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty"`
	EventTimestamp time.Time      `json:"event_timestamp"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	Duration       time.Duration  `json:"duration,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DeliveryStats aggregates delivery outcomes for a subscription
type DeliveryStats struct {
	SubscriptionID string  `json:"subscription_id"`
	Total          int     `json:"total"`
	Succeeded      int     `json:"succeeded"`
	Pending        int     `json:"pending"`
	Failed         int     `json:"failed"`
	Dead           int     `json:"dead"`
	SuccessRate    float64 `json:"success_rate"`
}
