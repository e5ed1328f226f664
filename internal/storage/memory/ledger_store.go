package memory

import (
	"context"
	"sync"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// It keeps the single-table layout so index semantics match the durable backend.
type LedgerStore struct {
	mu    sync.RWMutex
	table *table
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{table: newTable()}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// PutTrade writes the trade and its links atomically.
func (s *LedgerStore) PutTrade(_ context.Context, t *domain.TradeRecord, links []domain.StrategyTradeLink) error {
	if t == nil || t.OrderID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.exists(storage.TradePK(t.OrderID), storage.TradeSK) {
		return storage.ErrDuplicateKey
	}

	// Validate all links before writing anything
	for i := range links {
		if links[i].OrderID != t.OrderID || links[i].StrategyName == "" {
			return storage.ErrInvalidInput
		}
	}

	trade := t.Clone()
	s.table.put(&item{keys: storage.TradeKeys(trade), value: trade})
	for i := range links {
		link := links[i].Clone()
		s.table.put(&item{keys: storage.StrategyTradeKeys(link), value: link})
	}
	return nil
}

// GetTrade retrieves a trade by order id.
func (s *LedgerStore) GetTrade(_ context.Context, orderID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.table.get(storage.TradePK(orderID), storage.TradeSK)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return it.value.(*domain.TradeRecord).Clone(), nil
}

// QueryTradesByCorrelation returns trades for a workflow, most recent first.
func (s *LedgerStore) QueryTradesByCorrelation(_ context.Context, correlationID string, opts storage.QueryOptions) ([]*domain.TradeRecord, error) {
	return s.queryTrades(storage.IndexCorrelation, correlationID, opts), nil
}

// QueryTradesBySymbol returns trades for a symbol, most recent first.
func (s *LedgerStore) QueryTradesBySymbol(_ context.Context, symbol string, opts storage.QueryOptions) ([]*domain.TradeRecord, error) {
	return s.queryTrades(storage.IndexSymbol, symbol, opts), nil
}

func (s *LedgerStore) queryTrades(index int, pk string, opts storage.QueryOptions) []*domain.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := storage.ApplyLimit(s.table.query(index, pk, "", storage.EntityTrade, true), opts.Limit)
	out := make([]*domain.TradeRecord, len(items))
	for i, it := range items {
		out[i] = it.value.(*domain.TradeRecord).Clone()
	}
	return out
}

// QueryStrategyTrades returns matchable links for a strategy, most recent first.
func (s *LedgerStore) QueryStrategyTrades(_ context.Context, strategyName string, opts storage.QueryOptions) ([]*domain.StrategyTradeLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.table.query(storage.IndexStrategy, strategyName, "", storage.EntityStrategyTrade, true)
	out := make([]*domain.StrategyTradeLink, 0, len(items))
	for _, it := range items {
		link := it.value.(*domain.StrategyTradeLink)
		if !link.Matchable() {
			continue
		}
		out = append(out, link.Clone())
	}
	return storage.ApplyLimit(out, opts.Limit), nil
}
