// Package persist keeps the last committed snapshot of an instance so a
// restarted process picks up where the previous one stopped.
package persist

import (
	"sync"

	"github.com/ln64-git/dynamic-server-app-template/internal/state"
)

// Store loads and commits instance snapshots.
// All implementations must be safe for concurrent use.
type Store interface {
	// Load returns the last committed snapshot as a patch.
	// An empty store returns an empty patch and no error.
	Load() (state.Patch, error)

	// Commit replaces the stored snapshot.
	Commit(snap state.Snapshot) error

	// Stats returns storage statistics
	Stats() Stats
}

// Stats describes what a store holds.
type Stats struct {
	Keys    int // keys in the last commit
	Commits int // commits since the store was opened
}

// MemoryStore keeps the snapshot in memory. It survives nothing but is handy
// when persistence is disabled and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	data    state.Snapshot
	commits int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the last commit.
func (m *MemoryStore) Load() (state.Patch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(state.Patch, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

// Commit stores a copy of snap.
func (m *MemoryStore) Commit(snap state.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make(state.Snapshot, len(snap))
	for k, v := range snap {
		stored[k] = v
	}
	m.data = stored
	m.commits++
	return nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Keys: len(m.data), Commits: m.commits}
}
