// Package snapshot provides the per-class durable cache behind the
// SnapshotStore interface, with in-memory, SQLite and Redis backends.
// Derived calendar entries are never stored here; they are recomputed from
// the homework collection.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"classsync/pkg/interfaces"
)

// MemoryStore is the in-process backend, used as the default and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // classID -> kind -> value
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, classID, kind string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[classID][kind]
	if !ok {
		return nil, interfaces.ErrSnapshotNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, classID, kind string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[classID] == nil {
		s.data[classID] = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[classID][kind] = stored
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, classID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kinds, ok := s.data[classID]; ok {
		delete(kinds, kind)
		if len(kinds) == 0 {
			delete(s.data, classID)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// PutJSON marshals a value into the store under (classID, kind).
func PutJSON(ctx context.Context, store interfaces.SnapshotStore, classID, kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", kind, err)
	}
	return store.Put(ctx, classID, kind, data)
}

// GetJSON loads and unmarshals the value under (classID, kind) into v.
func GetJSON(ctx context.Context, store interfaces.SnapshotStore, classID, kind string, v interface{}) error {
	data, err := store.Get(ctx, classID, kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s snapshot: %w", kind, err)
	}
	return nil
}
