// Package lots maintains strategy lots from attributed fills.
//
// A BUY share opens one lot. A SELL share consumes open lots of the same
// strategy and symbol oldest-first. Applying the same trade twice is a no-op.
package lots

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/fifo"
	"strategy-ledger/internal/idhash"
	"strategy-ledger/internal/storage"
)

// DefaultMaxRetries bounds reload-and-retry rounds after a lot version conflict.
const DefaultMaxRetries = 5

// ErrRetriesExhausted is returned when lot updates keep conflicting.
var ErrRetriesExhausted = errors.New("lot update retries exhausted")

// Result reports the lot changes made for one trade.
type Result struct {
	Opened  []*domain.StrategyLot
	Updated []*domain.StrategyLot

	// Replayed lists strategies whose share of the trade was already applied.
	Replayed []string

	// Unmatched is exit quantity per strategy that found no open lot.
	Unmatched map[string]decimal.Decimal
}

// Manager applies trades to lots. Safe for concurrent use.
type Manager struct {
	store      storage.LotStore
	logger     *zap.Logger
	maxRetries int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a new Manager.
func NewManager(store storage.LotStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		logger:     logger.Named("lots"),
		maxRetries: DefaultMaxRetries,
		locks:      make(map[string]*sync.Mutex),
	}
}

// WithMaxRetries sets the version-conflict retry bound.
func (m *Manager) WithMaxRetries(n int) *Manager {
	if n > 0 {
		m.maxRetries = n
	}
	return m
}

// lock serializes exits per (strategy, symbol) inside this process.
// The store's version check still guards writers in other processes.
func (m *Manager) lock(strategyName, symbol string) func() {
	key := strategyName + "|" + symbol
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ApplyTrade applies every matchable link of the trade.
func (m *Manager) ApplyTrade(ctx context.Context, links []domain.StrategyTradeLink) (*Result, error) {
	res := &Result{Unmatched: make(map[string]decimal.Decimal)}

	for i := range links {
		link := &links[i]
		if !link.Matchable() {
			m.logger.Warn("skipping link without quantity or price",
				zap.String("order_id", link.OrderID),
				zap.String("strategy", link.StrategyName))
			continue
		}

		var err error
		switch link.Direction {
		case domain.DirectionBuy:
			err = m.openLot(ctx, link, res)
		case domain.DirectionSell:
			err = m.closeLots(ctx, link, res)
		default:
			err = fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidTrade, link.Direction)
		}
		if err != nil {
			return res, fmt.Errorf("apply %s to strategy %s: %w", link.OrderID, link.StrategyName, err)
		}
	}
	return res, nil
}

func (m *Manager) openLot(ctx context.Context, link *domain.StrategyTradeLink, res *Result) error {
	qty := link.AttributedQty()
	lot := &domain.StrategyLot{
		LotID:          idhash.ComputeLotID(link.StrategyName, link.Symbol, link.OrderID),
		StrategyName:   link.StrategyName,
		Symbol:         link.Symbol,
		EntryTradeID:   link.OrderID,
		EntryQty:       qty,
		EntryPrice:     *link.Price,
		EntryTimestamp: link.FillTimestamp.UTC(),
		RemainingQty:   qty,
	}
	if err := lot.Validate(); err != nil {
		return err
	}

	err := m.store.PutLot(ctx, lot)
	if errors.Is(err, storage.ErrDuplicateKey) {
		res.Replayed = append(res.Replayed, link.StrategyName)
		return nil
	}
	if err != nil {
		return err
	}

	m.logger.Debug("lot opened",
		zap.String("lot_id", lot.LotID),
		zap.String("strategy", lot.StrategyName),
		zap.String("symbol", lot.Symbol),
		zap.String("qty", qty.String()))
	res.Opened = append(res.Opened, lot)
	return nil
}

func (m *Manager) closeLots(ctx context.Context, link *domain.StrategyTradeLink, res *Result) error {
	unlock := m.lock(link.StrategyName, link.Symbol)
	defer unlock()

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		updated, left, replayed, err := m.consume(ctx, link)
		res.Updated = mergeUpdated(res.Updated, updated)
		if errors.Is(err, storage.ErrConditionFailed) {
			m.logger.Info("lot version conflict, reloading",
				zap.String("strategy", link.StrategyName),
				zap.String("symbol", link.Symbol),
				zap.String("order_id", link.OrderID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return err
		}

		if replayed {
			res.Replayed = append(res.Replayed, link.StrategyName)
		}
		if left.IsPositive() {
			m.logger.Warn("exit quantity without open lot",
				zap.String("strategy", link.StrategyName),
				zap.String("symbol", link.Symbol),
				zap.String("order_id", link.OrderID),
				zap.String("unmatched_qty", left.String()))
			res.Unmatched[link.StrategyName] = res.Unmatched[link.StrategyName].Add(left)
		}
		return nil
	}
	return ErrRetriesExhausted
}

// mergeUpdated adds lots written by one attempt. Writes from a conflicted
// attempt are kept; a lot written again replaces its earlier version.
func mergeUpdated(acc, written []*domain.StrategyLot) []*domain.StrategyLot {
	for _, lot := range written {
		replaced := false
		for i, prev := range acc {
			if prev.LotID == lot.LotID {
				acc[i] = lot
				replaced = true
				break
			}
		}
		if !replaced {
			acc = append(acc, lot)
		}
	}
	return acc
}

// consume applies the not yet applied part of a sell share to open lots.
// Returns the lots written, the quantity left without a lot and whether the
// share had been fully applied before.
func (m *Manager) consume(ctx context.Context, link *domain.StrategyTradeLink) ([]*domain.StrategyLot, decimal.Decimal, bool, error) {
	want := link.AttributedQty()

	applied, err := m.appliedQty(ctx, link)
	if err != nil {
		return nil, decimal.Zero, false, err
	}
	remaining := want.Sub(applied)
	if !remaining.IsPositive() {
		return nil, decimal.Zero, true, nil
	}

	open, err := m.store.QueryOpenLots(ctx, link.StrategyName, link.Symbol)
	if err != nil {
		return nil, decimal.Zero, false, err
	}

	var updated []*domain.StrategyLot
	for _, lot := range open {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, lot.RemainingQty)
		if _, err := lot.ApplyExit(link.OrderID, take, *link.Price, link.FillTimestamp); err != nil {
			return updated, decimal.Zero, false, err
		}
		if err := fifo.VerifyLot(lot); err != nil {
			return updated, decimal.Zero, false, err
		}
		if err := m.store.UpdateLot(ctx, lot); err != nil {
			return updated, decimal.Zero, false, err
		}
		updated = append(updated, lot)
		remaining = remaining.Sub(take)
	}
	return updated, remaining, false, nil
}

// appliedQty sums exit quantity already recorded for this trade on the strategy's lots in the symbol.
func (m *Manager) appliedQty(ctx context.Context, link *domain.StrategyTradeLink) (decimal.Decimal, error) {
	all, err := m.store.QueryAllLots(ctx, link.StrategyName)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, lot := range all {
		if lot.Symbol == link.Symbol {
			total = total.Add(lot.ExitedQtyForTrade(link.OrderID))
		}
	}
	return total, nil
}
