package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps entries in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{now: time.Now}
}

func (m *InMemoryStore) Put(_ context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, m.now())
	if err != nil {
		return e, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *InMemoryStore) Search(_ context.Context, query string, limit int) ([]Match, error) {
	m.mu.RLock()
	candidates := make([]Entry, len(m.entries))
	copy(candidates, m.entries)
	m.mu.RUnlock()
	return rank(Keywords(query), candidates, limit), nil
}

func (m *InMemoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(m.entries) - len(kept)
	m.entries = kept
	return removed, nil
}

func (m *InMemoryStore) Close() error { return nil }
