package reporting

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

var csvHeader = []string{
	"correlation_id", "strategy_name", "total_trades", "gross_pnl", "fifo_realized_pnl",
	"realized_pnl", "unrealized_pnl", "holdings", "holdings_value", "completed_trades",
	"win_rate", "avg_profit_per_trade", "capital_deployed_pct", "sharpe_ratio",
	"signals_generated", "signals_executed", "signals_ignored", "signals_superseded",
}

// RenderCSV renders one row per strategy, in report order. Absent values are empty.
func RenderCSV(r *Report) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for _, row := range r.Strategies {
		s := row.Summary
		unrealized, capital, sharpe := "", "", ""
		if s.UnrealizedPnL != nil {
			unrealized = s.UnrealizedPnL.String()
		}
		if s.CapitalDeployedPct != nil {
			capital = s.CapitalDeployedPct.String()
		}
		if row.Sharpe != nil {
			sharpe = strconv.FormatFloat(row.Sharpe.Ratio, 'f', 6, 64)
		}
		rec := []string{
			r.CorrelationID,
			s.StrategyName,
			strconv.Itoa(s.TotalTrades),
			s.GrossPnL.String(),
			s.FIFORealizedPnL.String(),
			s.TotalRealizedPnL.String(),
			unrealized,
			strconv.Itoa(s.CurrentHoldings),
			s.CurrentHoldingsValue.String(),
			strconv.Itoa(s.CompletedTrades),
			s.WinRate.String(),
			s.AvgProfitPerTrade.String(),
			capital,
			sharpe,
			strconv.Itoa(s.Signals.Generated),
			strconv.Itoa(s.Signals.Executed),
			strconv.Itoa(s.Signals.Ignored),
			strconv.Itoa(s.Signals.Superseded),
		}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("write %s: %w", s.StrategyName, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
