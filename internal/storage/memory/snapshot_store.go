package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string][]byte)}
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// SaveSnapshot replaces the snapshot stored under name.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, name string, data []byte) error {
	if name == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return nil
}

// LoadSnapshot returns the snapshot stored under name.
func (s *SnapshotStore) LoadSnapshot(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// PerformanceSnapshotStore is an in-memory implementation of storage.PerformanceSnapshotStore.
type PerformanceSnapshotStore struct {
	mu   sync.RWMutex
	rows []domain.PerformanceSnapshot
}

// NewPerformanceSnapshotStore creates a new in-memory performance snapshot store.
func NewPerformanceSnapshotStore() *PerformanceSnapshotStore {
	return &PerformanceSnapshotStore{}
}

var _ storage.PerformanceSnapshotStore = (*PerformanceSnapshotStore)(nil)

// InsertBulk appends rows.
func (s *PerformanceSnapshotStore) InsertBulk(_ context.Context, snaps []domain.PerformanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, snaps...)
	return nil
}

// GetByStrategy returns rows for a strategy ordered by collected_at ASC.
func (s *PerformanceSnapshotStore) GetByStrategy(_ context.Context, strategyName string) ([]domain.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PerformanceSnapshot
	for _, r := range s.rows {
		if r.StrategyName == strategyName {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CollectedAt.Before(out[j].CollectedAt) })
	return out, nil
}
