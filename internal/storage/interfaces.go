package storage

import (
	"context"
	"time"

	"strategy-ledger/internal/domain"
)

// QueryOptions bounds an index query. Limit <= 0 means no limit.
type QueryOptions struct {
	Limit int
}

// PageRequest carries scan pagination state between calls.
// An empty Cursor starts from the beginning; Limit bounds items examined per page.
type PageRequest struct {
	Cursor string
	Limit  int
}

// StrategyPage is one page of a strategy discovery scan.
// Strategies may repeat across pages. NextCursor is empty on the last page.
type StrategyPage struct {
	Strategies []string
	NextCursor string
}

// SignalLifecycleUpdate is a conditional state change with an atomic append.
type SignalLifecycleUpdate struct {
	SignalID string

	// ExpectedStates is the write condition: the stored state must be one of these.
	ExpectedStates []domain.LifecycleState

	NewState domain.LifecycleState

	// CreatedAt of the stored signal, used to rebuild the lifecycle index key.
	CreatedAt time.Time

	// AppendTradeIDs are appended to executed_trade_ids, skipping ids already present.
	AppendTradeIDs []string
}

// TradeStore provides access to trade records and their strategy links.
type TradeStore interface {
	// PutTrade writes the trade and all links in one atomic operation.
	// Returns ErrDuplicateKey if order_id exists; nothing is written in that case.
	PutTrade(ctx context.Context, t *domain.TradeRecord, links []domain.StrategyTradeLink) error

	// GetTrade retrieves a trade by order id. Returns ErrNotFound if not exists.
	GetTrade(ctx context.Context, orderID string) (*domain.TradeRecord, error)

	// QueryTradesByCorrelation returns trades for a workflow, most recent first.
	QueryTradesByCorrelation(ctx context.Context, correlationID string, opts QueryOptions) ([]*domain.TradeRecord, error)

	// QueryTradesBySymbol returns trades for a symbol, most recent first.
	QueryTradesBySymbol(ctx context.Context, symbol string, opts QueryOptions) ([]*domain.TradeRecord, error)

	// QueryStrategyTrades returns matchable links for a strategy, most recent first.
	// Rows lacking quantity or price are skipped.
	QueryStrategyTrades(ctx context.Context, strategyName string, opts QueryOptions) ([]*domain.StrategyTradeLink, error)
}

// SignalStore provides access to signal records.
type SignalStore interface {
	// PutSignal adds a new signal. Returns ErrDuplicateKey if signal_id exists.
	PutSignal(ctx context.Context, s *domain.SignalRecord) error

	// GetSignal retrieves a signal by id. Returns ErrNotFound if not exists.
	GetSignal(ctx context.Context, signalID string) (*domain.SignalRecord, error)

	// UpdateSignalLifecycle applies u atomically and returns the stored result.
	// Returns ErrNotFound if the signal does not exist and ErrConditionFailed
	// if its state is not in u.ExpectedStates.
	UpdateSignalLifecycle(ctx context.Context, u SignalLifecycleUpdate) (*domain.SignalRecord, error)

	// QuerySignalsByCorrelation returns signals for a workflow, most recent first.
	QuerySignalsByCorrelation(ctx context.Context, correlationID string, opts QueryOptions) ([]*domain.SignalRecord, error)

	// QuerySignalsByStrategy returns signals emitted by a strategy, most recent first.
	QuerySignalsByStrategy(ctx context.Context, strategyName string, opts QueryOptions) ([]*domain.SignalRecord, error)

	// QuerySignalsByLifecycleState returns signals in a state, most recent first.
	QuerySignalsByLifecycleState(ctx context.Context, state domain.LifecycleState, opts QueryOptions) ([]*domain.SignalRecord, error)
}

// LotStore provides access to strategy lots. Writes overwrite the whole item.
type LotStore interface {
	// PutLot adds a new lot. Returns ErrDuplicateKey if lot_id exists.
	PutLot(ctx context.Context, lot *domain.StrategyLot) error

	// UpdateLot overwrites a lot if the stored version equals lot.Version,
	// then increments lot.Version. Returns ErrNotFound or ErrConditionFailed.
	UpdateLot(ctx context.Context, lot *domain.StrategyLot) error

	// GetLot retrieves a lot by id. Returns ErrNotFound if not exists.
	GetLot(ctx context.Context, lotID string) (*domain.StrategyLot, error)

	// QueryOpenLots returns open lots for strategy and symbol, oldest entry first.
	QueryOpenLots(ctx context.Context, strategyName, symbol string) ([]*domain.StrategyLot, error)

	// QueryClosedLots returns closed lots for a strategy, most recently closed first.
	QueryClosedLots(ctx context.Context, strategyName string, opts QueryOptions) ([]*domain.StrategyLot, error)

	// QueryAllLots returns every lot of a strategy, oldest entry first.
	QueryAllLots(ctx context.Context, strategyName string) ([]*domain.StrategyLot, error)

	// ScanStrategiesWithCompletedTrades scans lots with at least one exit.
	ScanStrategiesWithCompletedTrades(ctx context.Context, page PageRequest) (*StrategyPage, error)

	// ScanStrategiesWithClosedLots scans fully closed lots.
	ScanStrategiesWithClosedLots(ctx context.Context, page PageRequest) (*StrategyPage, error)
}

// StrategyMetadataStore provides CRUD over strategy metadata.
type StrategyMetadataStore interface {
	// PutStrategyMetadata inserts or replaces metadata.
	PutStrategyMetadata(ctx context.Context, m *domain.StrategyMetadata) error

	// GetStrategyMetadata returns ErrNotFound if not exists.
	GetStrategyMetadata(ctx context.Context, strategyName string) (*domain.StrategyMetadata, error)

	// ListStrategyMetadata returns all metadata ordered by strategy name, served from an index.
	ListStrategyMetadata(ctx context.Context) ([]*domain.StrategyMetadata, error)

	// DeleteStrategyMetadata returns ErrNotFound if not exists.
	DeleteStrategyMetadata(ctx context.Context, strategyName string) error
}

// LedgerStore is the single-table ledger: trades, signals, lots and metadata.
type LedgerStore interface {
	TradeStore
	SignalStore
	LotStore
	StrategyMetadataStore
}

// SnapshotStore is the durable side-store for idempotency cache snapshots.
type SnapshotStore interface {
	// SaveSnapshot replaces the snapshot stored under name.
	SaveSnapshot(ctx context.Context, name string, data []byte) error

	// LoadSnapshot returns ErrNotFound if no snapshot has been saved.
	LoadSnapshot(ctx context.Context, name string) ([]byte, error)
}

// PerformanceSnapshotStore receives metrics rows from the collector.
type PerformanceSnapshotStore interface {
	// InsertBulk appends rows.
	InsertBulk(ctx context.Context, snaps []domain.PerformanceSnapshot) error

	// GetByStrategy returns rows for a strategy ordered by collected_at ASC.
	GetByStrategy(ctx context.Context, strategyName string) ([]domain.PerformanceSnapshot, error)
}
