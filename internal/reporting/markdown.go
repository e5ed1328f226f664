package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Strategy Performance Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Run: %s | Status: %s | Strategies: %d\n\n", r.CorrelationID, r.Status, len(r.Strategies)))

	// Phases
	if len(r.Phases) > 0 {
		sb.WriteString("## Collector Phases\n\n")
		sb.WriteString("| Phase | Status | Duration | Error |\n")
		sb.WriteString("|-------|--------|----------|-------|\n")
		for _, p := range r.Phases {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				p.Name, p.Status, p.Duration.Round(time.Millisecond), p.Error))
		}
		sb.WriteString("\n")
	}

	// Strategy Performance
	sb.WriteString("## Strategy Performance\n\n")
	if len(r.Strategies) > 0 {
		sb.WriteString("| Strategy | Trades | Realized P&L | FIFO P&L | Unrealized P&L | Holdings | Holdings Value | Completed | Win Rate % | Avg Profit | Capital % | Sharpe |\n")
		sb.WriteString("|----------|--------|--------------|----------|----------------|----------|----------------|-----------|------------|------------|-----------|--------|\n")
		for _, row := range r.Strategies {
			s := row.Summary
			sharpe := "n/a"
			if row.Sharpe != nil {
				sharpe = fmt.Sprintf("%.4f", row.Sharpe.Ratio)
			}
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s | %d | %s | %d | %s | %s | %s | %s |\n",
				s.DisplayName, s.TotalTrades,
				s.TotalRealizedPnL.StringFixed(2), s.FIFORealizedPnL.StringFixed(2), optional(s.UnrealizedPnL),
				s.CurrentHoldings, s.CurrentHoldingsValue.StringFixed(2),
				s.CompletedTrades, s.WinRate.StringFixed(2), s.AvgProfitPerTrade.StringFixed(2),
				optional(s.CapitalDeployedPct), sharpe))
		}
	} else {
		sb.WriteString("No strategy performance available.\n")
	}
	sb.WriteString("\n")

	// Signals
	sb.WriteString("## Signal Lifecycle\n\n")
	if len(r.Strategies) > 0 {
		sb.WriteString("| Strategy | Generated | Executed | Ignored | Superseded | Execution Rate % |\n")
		sb.WriteString("|----------|-----------|----------|---------|------------|------------------|\n")
		for _, row := range r.Strategies {
			sig := row.Summary.Signals
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %s |\n",
				row.Summary.DisplayName, sig.Generated, sig.Executed, sig.Ignored, sig.Superseded,
				optional(sig.ExecutionRate)))
		}
	} else {
		sb.WriteString("No signals recorded.\n")
	}
	sb.WriteString("\n")

	// Errors
	if len(r.Errors) > 0 {
		sb.WriteString("## Errors\n\n")
		for _, e := range r.Errors {
			sb.WriteString(fmt.Sprintf("- %s\n", e))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return "n/a"
	}
	return d.StringFixed(2)
}
