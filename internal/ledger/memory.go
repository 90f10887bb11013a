package ledger

import (
	"context"
	"sort"
	"sync"
)

var _ Ledger = (*Memory)(nil)

// Memory is an in-memory Ledger for tests and single-process runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
}

// NewMemory creates an empty Memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string]Entry)}
}

// List implements Ledger.
func (m *Memory) List(_ context.Context, category string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries[category]))
	for _, e := range m.entries[category] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements Ledger.
func (m *Memory) Get(_ context.Context, category, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[category][id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Record implements Ledger.
func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.entries[e.Category]
	if !ok {
		byID = make(map[string]Entry)
		m.entries[e.Category] = byID
	}
	byID[e.ID] = e
	return nil
}

// Forget implements Ledger.
func (m *Memory) Forget(_ context.Context, category, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[category], id)
	return nil
}
