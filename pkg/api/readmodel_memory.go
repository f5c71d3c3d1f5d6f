package api

import (
	"context"
	"sync"
)

// MemoryReadModel is an in-memory ReadModel. The business side pushes
// snapshots in; reads are owner-scoped copies.
type MemoryReadModel struct {
	mu          sync.RWMutex
	rings       map[string][]Ring
	drafts      map[string][]Draft
	ledger      map[string][]LedgerEntry
	enforcement map[string][]EnforcementFlag
}

// NewMemoryReadModel creates an empty read model
func NewMemoryReadModel() *MemoryReadModel {
	return &MemoryReadModel{
		rings:       make(map[string][]Ring),
		drafts:      make(map[string][]Draft),
		ledger:      make(map[string][]LedgerEntry),
		enforcement: make(map[string][]EnforcementFlag),
	}
}

// SetRings replaces an owner's ring view
func (m *MemoryReadModel) SetRings(ownerID string, rings []Ring) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rings[ownerID] = append([]Ring(nil), rings...)
}

// SetDrafts replaces an owner's draft view
func (m *MemoryReadModel) SetDrafts(ownerID string, drafts []Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[ownerID] = append([]Draft(nil), drafts...)
}

// SetLedger replaces an owner's ledger view
func (m *MemoryReadModel) SetLedger(ownerID string, entries []LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[ownerID] = append([]LedgerEntry(nil), entries...)
}

// SetEnforcement replaces an owner's enforcement view
func (m *MemoryReadModel) SetEnforcement(ownerID string, flags []EnforcementFlag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enforcement[ownerID] = append([]EnforcementFlag(nil), flags...)
}

// Rings returns the owner's rings
func (m *MemoryReadModel) Rings(ctx context.Context, ownerID string) ([]Ring, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Ring(nil), m.rings[ownerID]...), nil
}

// Drafts returns the owner's drafts
func (m *MemoryReadModel) Drafts(ctx context.Context, ownerID string) ([]Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Draft(nil), m.drafts[ownerID]...), nil
}

// Ledger returns the owner's ledger entries
func (m *MemoryReadModel) Ledger(ctx context.Context, ownerID string) ([]LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LedgerEntry(nil), m.ledger[ownerID]...), nil
}

// Enforcement returns the owner's enforcement flags
func (m *MemoryReadModel) Enforcement(ctx context.Context, ownerID string) ([]EnforcementFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EnforcementFlag(nil), m.enforcement[ownerID]...), nil
}
