package memory

import (
	"context"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// PutStrategyMetadata inserts or replaces metadata.
func (s *LedgerStore) PutStrategyMetadata(_ context.Context, m *domain.StrategyMetadata) error {
	if m == nil || m.StrategyName == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := m.Clone()
	if old, ok := s.table.get(storage.MetadataPK(m.StrategyName), storage.MetadataSK); ok {
		c.CreatedAt = old.value.(*domain.StrategyMetadata).CreatedAt
	}
	s.table.put(&item{keys: storage.MetadataKeys(c), value: c})
	return nil
}

// GetStrategyMetadata retrieves metadata by strategy name.
func (s *LedgerStore) GetStrategyMetadata(_ context.Context, strategyName string) (*domain.StrategyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.table.get(storage.MetadataPK(strategyName), storage.MetadataSK)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return it.value.(*domain.StrategyMetadata).Clone(), nil
}

// ListStrategyMetadata returns all metadata ordered by strategy name.
func (s *LedgerStore) ListStrategyMetadata(_ context.Context) ([]*domain.StrategyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.table.query(storage.IndexStrategy, storage.MetadataIndexPK(), "", storage.EntityStrategyMetadata, false)
	out := make([]*domain.StrategyMetadata, len(items))
	for i, it := range items {
		out[i] = it.value.(*domain.StrategyMetadata).Clone()
	}
	return out, nil
}

// DeleteStrategyMetadata removes metadata by strategy name.
func (s *LedgerStore) DeleteStrategyMetadata(_ context.Context, strategyName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.table.delete(storage.MetadataPK(strategyName), storage.MetadataSK) {
		return storage.ErrNotFound
	}
	return nil
}
