// Package ledger is the query and write boundary over the ledger store.
//
// Writes surface every failure to the caller. Reads degrade to empty results
// with a logged warning so reporting paths stay up during store outages.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/idhash"
	"strategy-ledger/internal/storage"
)

// DefaultScanPageSize is the page size used by the discovery helpers.
const DefaultScanPageSize = 100

// Recorder observes store calls. Implemented by observability.Metrics.
type Recorder interface {
	RecordStoreCall(operation string, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordStoreCall(string, time.Duration, error) {}

// Repository wraps a storage.LedgerStore. Construct once per process and share.
type Repository struct {
	store    storage.LedgerStore
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	pageSize int
}

// NewRepository creates a new Repository.
func NewRepository(store storage.LedgerStore, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		store:    store,
		logger:   logger.Named("ledger"),
		recorder: nopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
		pageSize: DefaultScanPageSize,
	}
}

// WithRecorder sets the store call recorder.
func (r *Repository) WithRecorder(rec Recorder) *Repository {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// WithClock sets a custom clock function for deterministic timestamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// WithPageSize sets the discovery scan page size.
func (r *Repository) WithPageSize(n int) *Repository {
	if n > 0 {
		r.pageSize = n
	}
	return r
}

// Store returns the underlying store.
func (r *Repository) Store() storage.LedgerStore {
	return r.store
}

func (r *Repository) observe(op string, start time.Time, err error) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrDuplicateKey) {
		err = nil
	}
	r.recorder.RecordStoreCall(op, time.Since(start), err)
}

// PutTradeResult reports what PutTrade stored.
type PutTradeResult struct {
	Trade     *domain.TradeRecord
	Links     []domain.StrategyTradeLink
	Duplicate bool // order_id already stored; Trade and Links are the stored ones
}

// PutTrade validates the trade, derives its strategy links and writes them
// atomically. A duplicate order_id is a no-op reported via Duplicate, and the
// result carries the trade as first stored.
func (r *Repository) PutTrade(ctx context.Context, t *domain.TradeRecord) (*PutTradeResult, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil trade", domain.ErrInvalidTrade)
	}
	rec := t.Clone()
	if err := rec.Normalize(); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.LedgerID == "" {
		rec.LedgerID = idhash.ComputeLedgerID(rec.OrderID, rec.FillTimestamp)
	}

	links, err := domain.BuildLinks(rec)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = r.store.PutTrade(ctx, rec, links)
	r.observe("put_trade", start, err)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return r.storedTrade(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("put trade %s: %w", rec.OrderID, err)
	}
	return &PutTradeResult{Trade: rec, Links: links}, nil
}

// storedTrade reports a duplicate order_id with the trade and links as
// first written. The incoming payload is discarded.
func (r *Repository) storedTrade(ctx context.Context, incoming *domain.TradeRecord) (*PutTradeResult, error) {
	logger := r.logger.With(
		zap.String("order_id", incoming.OrderID),
		zap.String("correlation_id", incoming.CorrelationID))

	start := time.Now()
	stored, err := r.store.GetTrade(ctx, incoming.OrderID)
	r.observe("get_trade", start, err)
	if err != nil {
		return nil, fmt.Errorf("load stored trade %s: %w", incoming.OrderID, err)
	}
	links, err := domain.BuildLinks(stored)
	if err != nil {
		return nil, fmt.Errorf("rebuild links for stored trade %s: %w", stored.OrderID, err)
	}

	if !sameFill(stored, incoming) {
		logger.Warn("duplicate trade differs from stored trade, keeping stored",
			zap.String("stored_qty", stored.FilledQty.String()),
			zap.String("incoming_qty", incoming.FilledQty.String()),
			zap.Strings("stored_strategies", linkNames(links)))
	} else {
		logger.Debug("duplicate trade ignored")
	}
	return &PutTradeResult{Trade: stored, Links: links, Duplicate: true}, nil
}

// sameFill compares the fields that drive lots and attribution.
func sameFill(a, b *domain.TradeRecord) bool {
	if a.Symbol != b.Symbol || a.Direction != b.Direction ||
		!a.FilledQty.Equal(b.FilledQty) || !a.FillPrice.Equal(b.FillPrice) ||
		!a.FillTimestamp.Equal(b.FillTimestamp) {
		return false
	}
	aa, errA := a.Attributions()
	ba, errB := b.Attributions()
	if errA != nil || errB != nil || len(aa) != len(ba) {
		return false
	}
	for i := range aa {
		if aa[i].StrategyName != ba[i].StrategyName || !aa[i].Weight.Equal(ba[i].Weight) {
			return false
		}
	}
	return true
}

func linkNames(links []domain.StrategyTradeLink) []string {
	out := make([]string, len(links))
	for i := range links {
		out[i] = links[i].StrategyName
	}
	return out
}

// PutSignal validates and stores a new signal. Returns true if the signal_id already existed.
func (r *Repository) PutSignal(ctx context.Context, s *domain.SignalRecord) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("%w: nil signal", domain.ErrInvalidSignal)
	}
	rec := s.Clone()
	if err := rec.Normalize(); err != nil {
		return false, err
	}
	if err := rec.Validate(); err != nil {
		return false, err
	}

	start := time.Now()
	err := r.store.PutSignal(ctx, rec)
	r.observe("put_signal", start, err)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("put signal %s: %w", rec.SignalID, err)
	}
	*s = *rec
	return false, nil
}

// GetTrade returns the trade, false if it does not exist.
func (r *Repository) GetTrade(ctx context.Context, orderID string) (*domain.TradeRecord, bool, error) {
	start := time.Now()
	t, err := r.store.GetTrade(ctx, orderID)
	r.observe("get_trade", start, err)
	return found(t, err)
}

// GetSignal returns the signal, false if it does not exist.
func (r *Repository) GetSignal(ctx context.Context, signalID string) (*domain.SignalRecord, bool, error) {
	start := time.Now()
	s, err := r.store.GetSignal(ctx, signalID)
	r.observe("get_signal", start, err)
	return found(s, err)
}

// GetLot returns the lot, false if it does not exist.
func (r *Repository) GetLot(ctx context.Context, lotID string) (*domain.StrategyLot, bool, error) {
	start := time.Now()
	l, err := r.store.GetLot(ctx, lotID)
	r.observe("get_lot", start, err)
	return found(l, err)
}

func found[T any](v *T, err error) (*T, bool, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// PutLot validates and stores a new lot.
func (r *Repository) PutLot(ctx context.Context, lot *domain.StrategyLot) error {
	if err := lot.Validate(); err != nil {
		return err
	}
	start := time.Now()
	err := r.store.PutLot(ctx, lot)
	r.observe("put_lot", start, err)
	return err
}

// UpdateLot validates and overwrites a lot under its version check.
func (r *Repository) UpdateLot(ctx context.Context, lot *domain.StrategyLot) error {
	if err := lot.Validate(); err != nil {
		return err
	}
	start := time.Now()
	err := r.store.UpdateLot(ctx, lot)
	r.observe("update_lot", start, err)
	return err
}

// degrade logs a failed read and reports whether the caller should return empty.
func (r *Repository) degrade(op, key string, err error) bool {
	if err == nil {
		return false
	}
	r.logger.Warn("query failed, returning empty result",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Error(err))
	return true
}

// QueryTradesByCorrelation returns trades for a workflow, most recent first.
func (r *Repository) QueryTradesByCorrelation(ctx context.Context, correlationID string, opts storage.QueryOptions) []*domain.TradeRecord {
	start := time.Now()
	out, err := r.store.QueryTradesByCorrelation(ctx, correlationID, opts)
	r.observe("query_trades_by_correlation", start, err)
	if r.degrade("query_trades_by_correlation", correlationID, err) {
		return nil
	}
	return out
}

// QueryTradesBySymbol returns trades for a symbol, most recent first.
func (r *Repository) QueryTradesBySymbol(ctx context.Context, symbol string, opts storage.QueryOptions) []*domain.TradeRecord {
	if sym, err := domain.NormalizeSymbol(symbol); err == nil {
		symbol = sym
	}
	start := time.Now()
	out, err := r.store.QueryTradesBySymbol(ctx, symbol, opts)
	r.observe("query_trades_by_symbol", start, err)
	if r.degrade("query_trades_by_symbol", symbol, err) {
		return nil
	}
	return out
}

// QueryStrategyTrades returns matchable strategy links, most recent first.
func (r *Repository) QueryStrategyTrades(ctx context.Context, strategyName string, opts storage.QueryOptions) []*domain.StrategyTradeLink {
	start := time.Now()
	out, err := r.store.QueryStrategyTrades(ctx, strategyName, opts)
	r.observe("query_strategy_trades", start, err)
	if r.degrade("query_strategy_trades", strategyName, err) {
		return nil
	}
	return out
}

// QuerySignalsByCorrelation returns signals for a workflow, most recent first.
func (r *Repository) QuerySignalsByCorrelation(ctx context.Context, correlationID string, opts storage.QueryOptions) []*domain.SignalRecord {
	start := time.Now()
	out, err := r.store.QuerySignalsByCorrelation(ctx, correlationID, opts)
	r.observe("query_signals_by_correlation", start, err)
	if r.degrade("query_signals_by_correlation", correlationID, err) {
		return nil
	}
	return out
}

// QuerySignalsByStrategy returns signals of a strategy, most recent first.
func (r *Repository) QuerySignalsByStrategy(ctx context.Context, strategyName string, opts storage.QueryOptions) []*domain.SignalRecord {
	start := time.Now()
	out, err := r.store.QuerySignalsByStrategy(ctx, strategyName, opts)
	r.observe("query_signals_by_strategy", start, err)
	if r.degrade("query_signals_by_strategy", strategyName, err) {
		return nil
	}
	return out
}

// QuerySignalsByLifecycleState returns signals in a state, most recent first.
func (r *Repository) QuerySignalsByLifecycleState(ctx context.Context, state domain.LifecycleState, opts storage.QueryOptions) []*domain.SignalRecord {
	start := time.Now()
	out, err := r.store.QuerySignalsByLifecycleState(ctx, state, opts)
	r.observe("query_signals_by_lifecycle_state", start, err)
	if r.degrade("query_signals_by_lifecycle_state", string(state), err) {
		return nil
	}
	return out
}

// QueryOpenLots returns the FIFO exit queue for strategy and symbol.
func (r *Repository) QueryOpenLots(ctx context.Context, strategyName, symbol string) []*domain.StrategyLot {
	start := time.Now()
	out, err := r.store.QueryOpenLots(ctx, strategyName, symbol)
	r.observe("query_open_lots", start, err)
	if r.degrade("query_open_lots", strategyName+"/"+symbol, err) {
		return nil
	}
	return out
}

// QueryClosedLots returns closed lots, most recently closed first.
func (r *Repository) QueryClosedLots(ctx context.Context, strategyName string, opts storage.QueryOptions) []*domain.StrategyLot {
	start := time.Now()
	out, err := r.store.QueryClosedLots(ctx, strategyName, opts)
	r.observe("query_closed_lots", start, err)
	if r.degrade("query_closed_lots", strategyName, err) {
		return nil
	}
	return out
}

// QueryAllLots returns every lot of a strategy, oldest entry first.
func (r *Repository) QueryAllLots(ctx context.Context, strategyName string) []*domain.StrategyLot {
	start := time.Now()
	out, err := r.store.QueryAllLots(ctx, strategyName)
	r.observe("query_all_lots", start, err)
	if r.degrade("query_all_lots", strategyName, err) {
		return nil
	}
	return out
}

// ScanStrategiesWithCompletedTrades returns one discovery page. The caller carries the cursor.
func (r *Repository) ScanStrategiesWithCompletedTrades(ctx context.Context, page storage.PageRequest) (*storage.StrategyPage, error) {
	start := time.Now()
	out, err := r.store.ScanStrategiesWithCompletedTrades(ctx, page)
	r.observe("scan_completed_trades", start, err)
	return out, err
}

// ScanStrategiesWithClosedLots returns one discovery page. The caller carries the cursor.
func (r *Repository) ScanStrategiesWithClosedLots(ctx context.Context, page storage.PageRequest) (*storage.StrategyPage, error) {
	start := time.Now()
	out, err := r.store.ScanStrategiesWithClosedLots(ctx, page)
	r.observe("scan_closed_lots", start, err)
	return out, err
}

// DiscoverStrategiesWithCompletedTrades walks every page and returns sorted unique names.
func (r *Repository) DiscoverStrategiesWithCompletedTrades(ctx context.Context) ([]string, error) {
	return r.discover(ctx, r.ScanStrategiesWithCompletedTrades)
}

// DiscoverStrategiesWithClosedLots walks every page and returns sorted unique names.
func (r *Repository) DiscoverStrategiesWithClosedLots(ctx context.Context) ([]string, error) {
	return r.discover(ctx, r.ScanStrategiesWithClosedLots)
}

func (r *Repository) discover(ctx context.Context, scan func(context.Context, storage.PageRequest) (*storage.StrategyPage, error)) ([]string, error) {
	seen := make(map[string]struct{})
	page := storage.PageRequest{Limit: r.pageSize}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := scan(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("scan page after %q: %w", page.Cursor, err)
		}
		for _, s := range res.Strategies {
			seen[s] = struct{}{}
		}
		if res.NextCursor == "" {
			break
		}
		page.Cursor = res.NextCursor
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// PutStrategyMetadata inserts or replaces metadata, stamping timestamps.
func (r *Repository) PutStrategyMetadata(ctx context.Context, m *domain.StrategyMetadata) error {
	if m == nil || m.StrategyName == "" {
		return fmt.Errorf("%w: strategy_name is required", storage.ErrInvalidInput)
	}
	rec := m.Clone()
	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	start := time.Now()
	err := r.store.PutStrategyMetadata(ctx, rec)
	r.observe("put_strategy_metadata", start, err)
	if err != nil {
		return fmt.Errorf("put strategy metadata %s: %w", rec.StrategyName, err)
	}
	return nil
}

// GetStrategyMetadata returns metadata, false if it does not exist.
func (r *Repository) GetStrategyMetadata(ctx context.Context, strategyName string) (*domain.StrategyMetadata, bool, error) {
	start := time.Now()
	m, err := r.store.GetStrategyMetadata(ctx, strategyName)
	r.observe("get_strategy_metadata", start, err)
	return found(m, err)
}

// ListStrategyMetadata returns all metadata ordered by strategy name.
func (r *Repository) ListStrategyMetadata(ctx context.Context) []*domain.StrategyMetadata {
	start := time.Now()
	out, err := r.store.ListStrategyMetadata(ctx)
	r.observe("list_strategy_metadata", start, err)
	if r.degrade("list_strategy_metadata", "", err) {
		return nil
	}
	return out
}

// DeleteStrategyMetadata removes metadata. Returns false if it did not exist.
func (r *Repository) DeleteStrategyMetadata(ctx context.Context, strategyName string) (bool, error) {
	start := time.Now()
	err := r.store.DeleteStrategyMetadata(ctx, strategyName)
	r.observe("delete_strategy_metadata", start, err)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn("strategy metadata not found", zap.String("strategy", strategyName))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete strategy metadata %s: %w", strategyName, err)
	}
	return true, nil
}
