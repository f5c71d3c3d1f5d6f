package apikeys

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and database-less
// runs. All methods are safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewMemoryStore creates an empty in-memory key store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*Key),
	}
}

// CreateKey inserts a new key record
func (s *MemoryStore) CreateKey(ctx context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *key
	s.keys[key.KeyID] = &cloned
	return nil
}

// GetKey fetches a key by its public id
func (s *MemoryStore) GetKey(ctx context.Context, keyID string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cloned := *key
	return &cloned, nil
}

// ListKeys returns all keys for an owner; empty owner returns all
func (s *MemoryStore) ListKeys(ctx context.Context, ownerID string) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Key
	for _, key := range s.keys {
		if ownerID != "" && key.OwnerID != ownerID {
			continue
		}
		cloned := *key
		result = append(result, &cloned)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListActiveKeys returns all active keys
func (s *MemoryStore) ListActiveKeys(ctx context.Context) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Key
	for _, key := range s.keys {
		if !key.Active {
			continue
		}
		cloned := *key
		result = append(result, &cloned)
	}
	return result, nil
}

// UpdateKey persists mutable fields of an existing key
func (s *MemoryStore) UpdateKey(ctx context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.KeyID]; !ok {
		return ErrKeyNotFound
	}
	cloned := *key
	s.keys[key.KeyID] = &cloned
	return nil
}

// TouchKey records a successful use of the key
func (s *MemoryStore) TouchKey(ctx context.Context, keyID string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	key.LastUsedAt = &usedAt
	return nil
}
