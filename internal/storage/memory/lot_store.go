package memory

import (
	"context"
	"sort"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// PutLot adds a new lot. Returns ErrDuplicateKey if lot_id exists.
func (s *LedgerStore) PutLot(_ context.Context, lot *domain.StrategyLot) error {
	if lot == nil || lot.LotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.exists(storage.LotPK(lot.LotID), storage.LotSK) {
		return storage.ErrDuplicateKey
	}

	c := lot.Clone()
	s.table.put(&item{keys: storage.LotKeys(c), version: c.Version, value: c})
	return nil
}

// UpdateLot overwrites a lot if its version matches, then bumps lot.Version.
func (s *LedgerStore) UpdateLot(_ context.Context, lot *domain.StrategyLot) error {
	if lot == nil || lot.LotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.table.get(storage.LotPK(lot.LotID), storage.LotSK)
	if !ok {
		return storage.ErrNotFound
	}
	if it.version != lot.Version {
		return storage.ErrConditionFailed
	}

	c := lot.Clone()
	c.Version = lot.Version + 1
	s.table.put(&item{keys: storage.LotKeys(c), version: c.Version, value: c})
	lot.Version = c.Version
	return nil
}

// GetLot retrieves a lot by id.
func (s *LedgerStore) GetLot(_ context.Context, lotID string) (*domain.StrategyLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.table.get(storage.LotPK(lotID), storage.LotSK)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return it.value.(*domain.StrategyLot).Clone(), nil
}

// QueryOpenLots returns open lots for strategy and symbol, oldest entry first.
func (s *LedgerStore) QueryOpenLots(_ context.Context, strategyName, symbol string) ([]*domain.StrategyLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.table.query(storage.IndexLots, strategyName, storage.OpenLotPrefix(symbol), storage.EntityLot, false)
	return storage.FilterLotsBySymbol(cloneLots(items), symbol), nil
}

// QueryClosedLots returns closed lots for a strategy, most recently closed first.
func (s *LedgerStore) QueryClosedLots(_ context.Context, strategyName string, opts storage.QueryOptions) ([]*domain.StrategyLot, error) {
	s.mu.RLock()
	items := s.table.query(storage.IndexLots, strategyName, storage.LotClosedPrefix, storage.EntityLot, false)
	lots := cloneLots(items)
	s.mu.RUnlock()

	storage.SortClosedLots(lots)
	return storage.ApplyLimit(lots, opts.Limit), nil
}

// QueryAllLots returns every lot of a strategy, oldest entry first.
func (s *LedgerStore) QueryAllLots(_ context.Context, strategyName string) ([]*domain.StrategyLot, error) {
	s.mu.RLock()
	items := s.table.query(storage.IndexLots, strategyName, "", storage.EntityLot, false)
	lots := cloneLots(items)
	s.mu.RUnlock()

	storage.SortLotsByEntry(lots)
	return lots, nil
}

// ScanStrategiesWithCompletedTrades scans lots with at least one exit.
func (s *LedgerStore) ScanStrategiesWithCompletedTrades(_ context.Context, page storage.PageRequest) (*storage.StrategyPage, error) {
	return s.scanLotStrategies(page, (*domain.StrategyLot).HasExits), nil
}

// ScanStrategiesWithClosedLots scans fully closed lots.
func (s *LedgerStore) ScanStrategiesWithClosedLots(_ context.Context, page storage.PageRequest) (*storage.StrategyPage, error) {
	return s.scanLotStrategies(page, func(l *domain.StrategyLot) bool { return !l.IsOpen() }), nil
}

func (s *LedgerStore) scanLotStrategies(page storage.PageRequest, keep func(*domain.StrategyLot) bool) *storage.StrategyPage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, next := s.table.scan(storage.EntityLot, page.Cursor, page.Limit)
	seen := make(map[string]struct{})
	result := &storage.StrategyPage{NextCursor: next}
	for _, it := range items {
		lot := it.value.(*domain.StrategyLot)
		if !keep(lot) {
			continue
		}
		if _, ok := seen[lot.StrategyName]; ok {
			continue
		}
		seen[lot.StrategyName] = struct{}{}
		result.Strategies = append(result.Strategies, lot.StrategyName)
	}
	sort.Strings(result.Strategies)
	return result
}

func cloneLots(items []*item) []*domain.StrategyLot {
	out := make([]*domain.StrategyLot, len(items))
	for i, it := range items {
		out[i] = it.value.(*domain.StrategyLot).Clone()
	}
	return out
}
