package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidURL is returned when a subscription URL is not an
	// absolute http(s) URL
	ErrInvalidURL = errors.New("subscription url must be an absolute http or https url")
	// ErrNoEventTypes is returned when a subscription requests no event
	// types
	ErrNoEventTypes = errors.New("subscription must select at least one event type")
	// ErrUnknownEventType is returned when a subscription requests an
	// event type outside the closed enumeration
	ErrUnknownEventType = errors.New("unknown event type")
)

// secretPrefix marks webhook signing secrets so they are recognizable
// in subscriber configuration
const secretPrefix = "whsec_"

// SubscriptionRegistry manages webhook subscription lifecycle
type SubscriptionRegistry struct {
	store SubscriptionStore
}

// NewSubscriptionRegistry creates a subscription registry backed by the
// given store
func NewSubscriptionRegistry(store SubscriptionStore) *SubscriptionRegistry {
	return &SubscriptionRegistry{store: store}
}

// Create registers a new subscription and mints its signing secret.
// The returned subscription carries the plaintext secret; this is the
// only time it is handed out, so callers must surface it immediately.
func (r *SubscriptionRegistry) Create(ctx context.Context, ownerID, rawURL string, eventTypes []EventType) (*Subscription, error) {
	if err := validateSubscriptionURL(rawURL); err != nil {
		return nil, err
	}
	if len(eventTypes) == 0 {
		return nil, ErrNoEventTypes
	}
	for _, t := range eventTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, t)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}

	sub := &Subscription{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		URL:        rawURL,
		Secret:     secret,
		EventTypes: append([]EventType(nil), eventTypes...),
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}
	return sub, nil
}

// Get resolves a subscription, restricted to the owner when ownerID is
// non-empty
func (r *SubscriptionRegistry) Get(ctx context.Context, id, ownerID string) (*Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && sub.OwnerID != ownerID {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// List returns the owner's subscriptions
func (r *SubscriptionRegistry) List(ctx context.Context, ownerID string) ([]*Subscription, error) {
	return r.store.ListSubscriptions(ctx, ownerID)
}

// Delete soft-deletes a subscription. The row survives so historical
// deliveries keep resolving; it just stops matching future events.
func (r *SubscriptionRegistry) Delete(ctx context.Context, id, ownerID string) error {
	return r.store.DeactivateSubscription(ctx, id, ownerID)
}

// validateSubscriptionURL accepts absolute http(s) URLs with a host
func validateSubscriptionURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// generateSecret mints a whsec_-prefixed 256-bit signing secret
func generateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}
