package apikeys

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key id does not resolve
var ErrKeyNotFound = errors.New("api key not found")

// Store persists API key records
type Store interface {
	// CreateKey inserts a new key record
	CreateKey(ctx context.Context, key *Key) error
	// GetKey fetches a key by its public id, regardless of active state
	GetKey(ctx context.Context, keyID string) (*Key, error)
	// ListKeys returns all keys for an owner; empty owner returns all
	ListKeys(ctx context.Context, ownerID string) ([]*Key, error)
	// ListActiveKeys returns all active, non-revoked keys
	ListActiveKeys(ctx context.Context) ([]*Key, error)
	// UpdateKey persists mutable fields of an existing key
	UpdateKey(ctx context.Context, key *Key) error
	// TouchKey records a successful use of the key
	TouchKey(ctx context.Context, keyID string, usedAt time.Time) error
}
