package postgres

import (
	"context"
	"fmt"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore over the single ledger_items table.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// PutTrade writes the trade and its links in one transaction.
// Returns ErrDuplicateKey if order_id exists; nothing is written in that case.
func (s *LedgerStore) PutTrade(ctx context.Context, t *domain.TradeRecord, links []domain.StrategyTradeLink) error {
	if t == nil || t.OrderID == "" {
		return storage.ErrInvalidInput
	}
	for i := range links {
		if links[i].OrderID != t.OrderID || links[i].StrategyName == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertItem(ctx, tx, storage.TradeKeys(t), 0, t); err != nil {
		return err
	}
	for i := range links {
		if err := insertItem(ctx, tx, storage.StrategyTradeKeys(&links[i]), 0, &links[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetTrade retrieves a trade by order id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetTrade(ctx context.Context, orderID string) (*domain.TradeRecord, error) {
	return getItem[domain.TradeRecord](ctx, s.pool, storage.TradePK(orderID), storage.TradeSK)
}

// QueryTradesByCorrelation returns trades for a workflow, most recent first.
func (s *LedgerStore) QueryTradesByCorrelation(ctx context.Context, correlationID string, opts storage.QueryOptions) ([]*domain.TradeRecord, error) {
	return queryIndex[domain.TradeRecord](ctx, s.pool, indexQuery{
		index:      storage.IndexCorrelation,
		pk:         correlationID,
		entityType: storage.EntityTrade,
		desc:       true,
		limit:      opts.Limit,
	})
}

// QueryTradesBySymbol returns trades for a symbol, most recent first.
func (s *LedgerStore) QueryTradesBySymbol(ctx context.Context, symbol string, opts storage.QueryOptions) ([]*domain.TradeRecord, error) {
	return queryIndex[domain.TradeRecord](ctx, s.pool, indexQuery{
		index:      storage.IndexSymbol,
		pk:         symbol,
		entityType: storage.EntityTrade,
		desc:       true,
		limit:      opts.Limit,
	})
}

// QueryStrategyTrades returns matchable links for a strategy, most recent first.
func (s *LedgerStore) QueryStrategyTrades(ctx context.Context, strategyName string, opts storage.QueryOptions) ([]*domain.StrategyTradeLink, error) {
	links, err := queryIndex[domain.StrategyTradeLink](ctx, s.pool, indexQuery{
		index:      storage.IndexStrategy,
		pk:         strategyName,
		entityType: storage.EntityStrategyTrade,
		desc:       true,
	})
	if err != nil {
		return nil, err
	}

	out := links[:0]
	for _, l := range links {
		if l.Matchable() {
			out = append(out, l)
		}
	}
	return storage.ApplyLimit(out, opts.Limit), nil
}
