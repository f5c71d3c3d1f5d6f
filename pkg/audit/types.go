package audit

import (
	"encoding/json"
	"time"
)

// Action categorizes an administrative event
type Action string

const (
	ActionKeyCreated          Action = "key.created"
	ActionKeyRotated          Action = "key.rotated"
	ActionKeyRevoked          Action = "key.revoked"
	ActionSubscriptionCreated Action = "subscription.created"
	ActionSubscriptionDeleted Action = "subscription.deleted"
	ActionDeliveryRequeued    Action = "delivery.requeued"
)

// Entry is one administrative action on the relay control plane.
// Entries are append-only; nothing in the system updates or deletes
// them.
type Entry struct {
	ID        int64           `json:"id,omitempty"`
	Action    Action          `json:"action"`
	ActorID   string          `json:"actor_id,omitempty"`
	TargetID  string          `json:"target_id"`
	ClientIP  string          `json:"client_ip,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
