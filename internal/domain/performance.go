package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceSummary is the derived performance of one strategy.
// Recomputed on demand; never the source of truth.
type PerformanceSummary struct {
	StrategyName string `json:"strategy_name"`
	DisplayName  string `json:"display_name"`

	// Trade link aggregates
	TotalTrades     int             `json:"total_trades"`
	BuyTrades       int             `json:"buy_trades"`
	SellTrades      int             `json:"sell_trades"`
	BuyValue        decimal.Decimal `json:"buy_value"`
	SellValue       decimal.Decimal `json:"sell_value"`
	GrossPnL        decimal.Decimal `json:"gross_pnl"`         // sell_value - buy_value
	FIFORealizedPnL decimal.Decimal `json:"fifo_realized_pnl"` // from trade-level FIFO matching
	SymbolsTraded   []string        `json:"symbols_traded"`
	FirstTradeAt    *time.Time      `json:"first_trade_at,omitempty"`
	LastTradeAt     *time.Time      `json:"last_trade_at,omitempty"`

	// Lot aggregates
	CurrentHoldings      int             `json:"current_holdings"`       // open lots
	CurrentHoldingsValue decimal.Decimal `json:"current_holdings_value"` // cost basis of open lots
	CompletedTrades      int             `json:"completed_trades"`       // exit records
	WinningTrades        int             `json:"winning_trades"`
	LosingTrades         int             `json:"losing_trades"`
	WinRate              decimal.Decimal `json:"win_rate"` // percent
	AvgProfitPerTrade    decimal.Decimal `json:"avg_profit_per_trade"`
	TotalRealizedPnL     decimal.Decimal `json:"total_realized_pnl"`

	UnrealizedPnL      *decimal.Decimal `json:"unrealized_pnl,omitempty"`       // nil without prices for every held symbol
	CapitalDeployedPct *decimal.Decimal `json:"capital_deployed_pct,omitempty"` // nil without allocated capital

	Signals SignalStats `json:"signals"`
}

// SharpeResult is an annualized Sharpe ratio over a lookback window.
type SharpeResult struct {
	StrategyName         string    `json:"strategy_name"`
	Ratio                float64   `json:"ratio"`
	AnnualizedReturn     float64   `json:"annualized_return"`
	AnnualizedVolatility float64   `json:"annualized_volatility"`
	RiskFreeRate         float64   `json:"risk_free_rate"`
	ClosedLots           int       `json:"closed_lots"`
	TradingDays          int       `json:"trading_days"`
	WindowStart          time.Time `json:"window_start"`
	WindowEnd            time.Time `json:"window_end"`
}

// PerformanceSnapshot is one row pushed to the metrics boundary.
type PerformanceSnapshot struct {
	CollectedAt        time.Time
	CorrelationID      string
	StrategyName       string
	RealizedPnL        float64
	HoldingsValue      float64
	HoldingsCount      int
	CompletedTrades    int
	WinRate            float64
	AvgProfitPerTrade  float64
	CapitalDeployedPct *float64 // nullable
	SharpeRatio        *float64 // nullable
}

// SnapshotFromSummary converts a summary into a metrics row.
func SnapshotFromSummary(s *PerformanceSummary, correlationID string, at time.Time) PerformanceSnapshot {
	snap := PerformanceSnapshot{
		CollectedAt:       at.UTC(),
		CorrelationID:     correlationID,
		StrategyName:      s.StrategyName,
		RealizedPnL:       s.TotalRealizedPnL.InexactFloat64(),
		HoldingsValue:     s.CurrentHoldingsValue.InexactFloat64(),
		HoldingsCount:     s.CurrentHoldings,
		CompletedTrades:   s.CompletedTrades,
		WinRate:           s.WinRate.InexactFloat64(),
		AvgProfitPerTrade: s.AvgProfitPerTrade.InexactFloat64(),
	}
	if s.CapitalDeployedPct != nil {
		v := s.CapitalDeployedPct.InexactFloat64()
		snap.CapitalDeployedPct = &v
	}
	return snap
}
