// Package persist stores named JSON state slots. Each state container
// owns one slot and rewrites it after every mutation, so a process
// restart resumes from the last snapshot.
package persist

import (
	"context"
	"encoding/json"
	"sync"
)

// Store loads and saves one JSON blob per slot name.
//
// Load reports found=false both for a missing slot and for a stored
// value that no longer parses; callers fall back to their zero state.
// Containers treat Save errors as non-fatal: state keeps working for
// the current process, it just is not durable.
type Store interface {
	Load(ctx context.Context, slot string, v any) (found bool, err error)
	Save(ctx context.Context, slot string, v any) error
	Delete(ctx context.Context, slot string) error
}

// MemoryStore keeps slots in process memory. Used in tests and for
// anonymous sessions that never need durability.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

// Load unmarshals the slot into v.
func (m *MemoryStore) Load(_ context.Context, slot string, v any) (bool, error) {
	m.mu.RLock()
	data, ok := m.slots[slot]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, nil
	}
	return true, nil
}

// Save marshals v into the slot.
func (m *MemoryStore) Save(_ context.Context, slot string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.slots[slot] = data
	m.mu.Unlock()
	return nil
}

// Delete removes the slot.
func (m *MemoryStore) Delete(_ context.Context, slot string) error {
	m.mu.Lock()
	delete(m.slots, slot)
	m.mu.Unlock()
	return nil
}
