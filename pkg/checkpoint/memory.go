package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in process memory. Readers never block each other.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]Snapshot)}
}

// Save appends a copy of snap.
func (m *MemoryStore) Save(_ context.Context, runID string, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.runs[runID]
	if n := len(log); n > 0 && snap.Seq <= log[n-1].Seq {
		return fmt.Errorf("run %s seq %d after %d: %w", runID, snap.Seq, log[n-1].Seq, ErrStaleSnapshot)
	}
	m.runs[runID] = append(log, snap.Clone())
	return nil
}

// Load returns a copy of the latest snapshot.
func (m *MemoryStore) Load(_ context.Context, runID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.runs[runID]
	if len(log) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	snap := log[len(log)-1].Clone()
	return &snap, nil
}

// List returns the stored run IDs.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// History returns copies of every snapshot of the run.
func (m *MemoryStore) History(_ context.Context, runID string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.runs[runID]
	if len(log) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	out := make([]Snapshot, len(log))
	for i := range log {
		out[i] = log[i].Clone()
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
