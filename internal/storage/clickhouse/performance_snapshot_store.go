package clickhouse

import (
	"context"
	"fmt"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// PerformanceSnapshotStore implements storage.PerformanceSnapshotStore using ClickHouse.
// Rows are append-only; repeated collections of the same strategy are kept as history.
type PerformanceSnapshotStore struct {
	conn *Conn
}

// NewPerformanceSnapshotStore creates a new PerformanceSnapshotStore.
func NewPerformanceSnapshotStore(conn *Conn) *PerformanceSnapshotStore {
	return &PerformanceSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PerformanceSnapshotStore = (*PerformanceSnapshotStore)(nil)

// InsertBulk appends rows in one batch.
func (s *PerformanceSnapshotStore) InsertBulk(ctx context.Context, snaps []domain.PerformanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO performance_snapshots (
			collected_at, correlation_id, strategy_name,
			realized_pnl, holdings_value, holdings_count, completed_trades,
			win_rate, avg_profit_per_trade, capital_deployed_pct, sharpe_ratio
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range snaps {
		err = batch.Append(
			p.CollectedAt.UTC(), p.CorrelationID, p.StrategyName,
			p.RealizedPnL, p.HoldingsValue, uint32(p.HoldingsCount), uint32(p.CompletedTrades),
			p.WinRate, p.AvgProfitPerTrade, p.CapitalDeployedPct, p.SharpeRatio,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByStrategy returns rows for a strategy ordered by collected_at ASC.
func (s *PerformanceSnapshotStore) GetByStrategy(ctx context.Context, strategyName string) ([]domain.PerformanceSnapshot, error) {
	query := `
		SELECT
			collected_at, correlation_id, strategy_name,
			realized_pnl, holdings_value, holdings_count, completed_trades,
			win_rate, avg_profit_per_trade, capital_deployed_pct, sharpe_ratio
		FROM performance_snapshots
		WHERE strategy_name = ?
		ORDER BY collected_at ASC, correlation_id ASC
	`

	rows, err := s.conn.Query(ctx, query, strategyName)
	if err != nil {
		return nil, fmt.Errorf("query performance snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.PerformanceSnapshot
	for rows.Next() {
		var (
			p               domain.PerformanceSnapshot
			holdingsCount   uint32
			completedTrades uint32
		)
		err := rows.Scan(
			&p.CollectedAt, &p.CorrelationID, &p.StrategyName,
			&p.RealizedPnL, &p.HoldingsValue, &holdingsCount, &completedTrades,
			&p.WinRate, &p.AvgProfitPerTrade, &p.CapitalDeployedPct, &p.SharpeRatio,
		)
		if err != nil {
			return nil, fmt.Errorf("scan performance snapshot: %w", err)
		}
		p.HoldingsCount = int(holdingsCount)
		p.CompletedTrades = int(completedTrades)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance snapshots: %w", err)
	}
	return out, nil
}
