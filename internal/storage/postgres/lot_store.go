package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// PutLot adds a new lot. Returns ErrDuplicateKey if lot_id exists.
func (s *LedgerStore) PutLot(ctx context.Context, lot *domain.StrategyLot) error {
	if lot == nil || lot.LotID == "" {
		return storage.ErrInvalidInput
	}
	return insertItem(ctx, s.pool, storage.LotKeys(lot), lot.Version, lot)
}

// UpdateLot overwrites a lot if its version matches, then bumps lot.Version.
func (s *LedgerStore) UpdateLot(ctx context.Context, lot *domain.StrategyLot) error {
	if lot == nil || lot.LotID == "" {
		return storage.ErrInvalidInput
	}

	next := lot.Clone()
	next.Version = lot.Version + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal lot payload: %w", err)
	}

	idx := storage.LotIndexKey(next)
	query := `
		UPDATE ledger_items
		SET lots_pk = $3, lots_sk = $4, version = $5, payload = $6
		WHERE pk = $1 AND sk = $2 AND version = $7
	`
	tag, err := s.pool.Exec(ctx, query,
		storage.LotPK(lot.LotID), storage.LotSK, idx.PK, idx.SK, next.Version, payload, lot.Version,
	)
	if err != nil {
		return fmt.Errorf("update lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := itemExists(ctx, s.pool, storage.LotPK(lot.LotID), storage.LotSK)
		if err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrConditionFailed
	}

	lot.Version = next.Version
	return nil
}

// GetLot retrieves a lot by id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetLot(ctx context.Context, lotID string) (*domain.StrategyLot, error) {
	return getItem[domain.StrategyLot](ctx, s.pool, storage.LotPK(lotID), storage.LotSK)
}

// QueryOpenLots returns open lots for strategy and symbol, oldest entry first.
func (s *LedgerStore) QueryOpenLots(ctx context.Context, strategyName, symbol string) ([]*domain.StrategyLot, error) {
	lots, err := queryIndex[domain.StrategyLot](ctx, s.pool, indexQuery{
		index:      storage.IndexLots,
		pk:         strategyName,
		skPrefix:   storage.OpenLotPrefix(symbol),
		entityType: storage.EntityLot,
	})
	if err != nil {
		return nil, err
	}
	return storage.FilterLotsBySymbol(lots, symbol), nil
}

// QueryClosedLots returns closed lots for a strategy, most recently closed first.
func (s *LedgerStore) QueryClosedLots(ctx context.Context, strategyName string, opts storage.QueryOptions) ([]*domain.StrategyLot, error) {
	lots, err := queryIndex[domain.StrategyLot](ctx, s.pool, indexQuery{
		index:      storage.IndexLots,
		pk:         strategyName,
		skPrefix:   storage.LotClosedPrefix,
		entityType: storage.EntityLot,
	})
	if err != nil {
		return nil, err
	}
	storage.SortClosedLots(lots)
	return storage.ApplyLimit(lots, opts.Limit), nil
}

// QueryAllLots returns every lot of a strategy, oldest entry first.
func (s *LedgerStore) QueryAllLots(ctx context.Context, strategyName string) ([]*domain.StrategyLot, error) {
	lots, err := queryIndex[domain.StrategyLot](ctx, s.pool, indexQuery{
		index:      storage.IndexLots,
		pk:         strategyName,
		entityType: storage.EntityLot,
	})
	if err != nil {
		return nil, err
	}
	storage.SortLotsByEntry(lots)
	return lots, nil
}

// ScanStrategiesWithCompletedTrades scans lots with at least one exit.
func (s *LedgerStore) ScanStrategiesWithCompletedTrades(ctx context.Context, page storage.PageRequest) (*storage.StrategyPage, error) {
	return s.scanLotStrategies(ctx, page, (*domain.StrategyLot).HasExits)
}

// ScanStrategiesWithClosedLots scans fully closed lots.
func (s *LedgerStore) ScanStrategiesWithClosedLots(ctx context.Context, page storage.PageRequest) (*storage.StrategyPage, error) {
	return s.scanLotStrategies(ctx, page, func(l *domain.StrategyLot) bool { return !l.IsOpen() })
}

// scanLotStrategies reads one page of lots in primary key order and filters it.
// The cursor is the last primary key examined.
func (s *LedgerStore) scanLotStrategies(ctx context.Context, page storage.PageRequest, keep func(*domain.StrategyLot) bool) (*storage.StrategyPage, error) {
	query := `
		SELECT pk, payload
		FROM ledger_items
		WHERE entity_type = $1 AND pk > $2
		ORDER BY pk
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, storage.EntityLot, page.Cursor, limitArg(page.Limit))
	if err != nil {
		return nil, fmt.Errorf("scan lots: %w", err)
	}

	type scanned struct {
		PK      string
		Payload []byte
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[scanned])
	if err != nil {
		return nil, fmt.Errorf("scan lots: %w", err)
	}

	result := &storage.StrategyPage{}
	if page.Limit > 0 && len(items) == page.Limit {
		result.NextCursor = items[len(items)-1].PK
	}

	seen := make(map[string]struct{})
	for _, it := range items {
		lot, err := decode[domain.StrategyLot](it.Payload)
		if err != nil {
			return nil, err
		}
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
	return result, nil
}
