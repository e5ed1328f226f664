package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"strategy-ledger/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// applyLinks fills the trade-link aggregates of s.
// Links are one per (order, strategy); values are the strategy's weighted notional.
func applyLinks(s *domain.PerformanceSummary, links []*domain.StrategyTradeLink) {
	symbols := make(map[string]struct{})
	for _, l := range links {
		s.TotalTrades++
		switch l.Direction {
		case domain.DirectionBuy:
			s.BuyTrades++
			s.BuyValue = s.BuyValue.Add(l.WeightedNotional)
		case domain.DirectionSell:
			s.SellTrades++
			s.SellValue = s.SellValue.Add(l.WeightedNotional)
		}
		symbols[l.Symbol] = struct{}{}

		ts := l.FillTimestamp.UTC()
		if s.FirstTradeAt == nil || ts.Before(*s.FirstTradeAt) {
			s.FirstTradeAt = &ts
		}
		if s.LastTradeAt == nil || ts.After(*s.LastTradeAt) {
			last := ts
			s.LastTradeAt = &last
		}
	}
	s.GrossPnL = s.SellValue.Sub(s.BuyValue)

	s.SymbolsTraded = make([]string, 0, len(symbols))
	for sym := range symbols {
		s.SymbolsTraded = append(s.SymbolsTraded, sym)
	}
	sort.Strings(s.SymbolsTraded)
}

// applyLots fills the lot aggregates of s.
//
// Holdings are lots with remaining qty, valued at cost basis. Every exit
// record is one completed trade; pnl > 0 is a win, anything else a loss.
func applyLots(s *domain.PerformanceSummary, lots []*domain.StrategyLot) {
	for _, lot := range lots {
		if lot.IsOpen() {
			s.CurrentHoldings++
			s.CurrentHoldingsValue = s.CurrentHoldingsValue.Add(lot.CostBasis())
		}
		for _, e := range lot.ExitRecords {
			s.CompletedTrades++
			s.TotalRealizedPnL = s.TotalRealizedPnL.Add(e.RealizedPnL)
			if e.RealizedPnL.IsPositive() {
				s.WinningTrades++
			} else {
				s.LosingTrades++
			}
		}
	}
	s.WinRate = computeWinRate(s.WinningTrades, s.CompletedTrades)
	if s.CompletedTrades > 0 {
		s.AvgProfitPerTrade = s.TotalRealizedPnL.Div(decimal.NewFromInt(int64(s.CompletedTrades)))
	}
}

// computeWinRate returns wins / total as a percentage, 0 when total is 0.
func computeWinRate(wins, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(wins)).Mul(hundred).Div(decimal.NewFromInt(int64(total)))
}

// unrealizedPnL values open lots at the latest price.
// Returns nil when any held symbol has no price.
func unrealizedPnL(lots []*domain.StrategyLot, prices PriceSource) *decimal.Decimal {
	if prices == nil {
		return nil
	}
	total := decimal.Zero
	held := false
	for _, lot := range lots {
		if !lot.IsOpen() {
			continue
		}
		held = true
		px, ok := prices.LatestPrice(lot.Symbol)
		if !ok {
			return nil
		}
		total = total.Add(px.Sub(lot.EntryPrice).Mul(lot.RemainingQty))
	}
	if !held {
		return nil
	}
	return &total
}

// capitalDeployedPct is holdings value over allocated capital, as a percentage.
func capitalDeployedPct(holdings decimal.Decimal, meta *domain.StrategyMetadata) *decimal.Decimal {
	if meta == nil || meta.AllocatedCapital == nil || !meta.AllocatedCapital.IsPositive() {
		return nil
	}
	pct := holdings.Mul(hundred).Div(*meta.AllocatedCapital)
	return &pct
}

// computeSignalStats counts signals per state.
// Execution rate is executed / (executed + ignored + superseded) * 100.
func computeSignalStats(signals []*domain.SignalRecord) domain.SignalStats {
	var st domain.SignalStats
	for _, s := range signals {
		switch s.LifecycleState {
		case domain.LifecycleGenerated:
			st.Generated++
		case domain.LifecycleExecuted:
			st.Executed++
		case domain.LifecycleIgnored:
			st.Ignored++
		case domain.LifecycleSuperseded:
			st.Superseded++
		}
	}
	if resolved := st.Executed + st.Ignored + st.Superseded; resolved > 0 {
		rate := computeWinRate(st.Executed, resolved)
		st.ExecutionRate = &rate
	}
	return st
}

// dailyPnL groups realized P&L of closed lots by UTC close date.
func dailyPnL(lots []*domain.StrategyLot) map[string]decimal.Decimal {
	days := make(map[string]decimal.Decimal)
	for _, lot := range lots {
		closed, ok := lot.ClosedAt()
		if !ok {
			continue
		}
		day := closed.UTC().Format(time.DateOnly)
		days[day] = days[day].Add(lot.RealizedPnL())
	}
	return days
}

// averagePositionValue is the mean entry value (qty * price) across lots.
func averagePositionValue(lots []*domain.StrategyLot) decimal.Decimal {
	if len(lots) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.EntryValue())
	}
	return total.Div(decimal.NewFromInt(int64(len(lots))))
}

// computeMean calculates the arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}
