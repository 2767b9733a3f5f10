package state

import (
	"context"
	"sync"

	"github.com/roach88/reprowatch/internal/model"
)

// MemoryStore keeps entries in memory only.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	entries  Snapshot
	persists int
}

// NewMemoryStore returns a store seeded with the given entries.
func NewMemoryStore(seed ...model.StateEntry) *MemoryStore {
	s := &MemoryStore{entries: Snapshot{}}
	for _, e := range seed {
		s.entries.put(e)
	}
	return s
}

// NewMemoryStoreFrom returns a store holding a copy of snap, labels
// without a version code included.
func NewMemoryStoreFrom(snap Snapshot) *MemoryStore {
	return &MemoryStore{entries: snap.clone()}
}

func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.clone(), nil
}

func (s *MemoryStore) RecordProcessed(ctx context.Context, entry model.StateEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries.conflicts(entry) {
		return &ConflictError{AppID: entry.AppID, Version: entry.Version, VersionCode: entry.VersionCode}
	}
	s.entries.put(entry)
	return nil
}

// Persist only counts calls.
func (s *MemoryStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// PersistCount returns how many times Persist was called.
func (s *MemoryStore) PersistCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persists
}
