// Package fifo computes realized P&L by chronological first-in-first-out pairing.
//
// Match is the lenient trade-level engine: one buy pairs with one sell, a
// quantity mismatch is matched on the smaller side and both cursors advance.
// VerifyLot and MatchLots are the strict form over lot exit records, where any
// inconsistency is a data-integrity error.
package fifo

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-ledger/internal/domain"
)

// Execution is one directional fill fed to the matcher.
// Quantity or Price may be nil for legacy rows; such executions are skipped.
type Execution struct {
	ID        string
	Symbol    string
	Direction domain.Direction
	Quantity  *decimal.Decimal
	Price     *decimal.Decimal
	Timestamp time.Time
}

// Pair is one buy matched with one sell.
type Pair struct {
	BuyID      string
	SellID     string
	MatchedQty decimal.Decimal
	BuyPrice   decimal.Decimal
	SellPrice  decimal.Decimal
	PnL        decimal.Decimal
	Mismatch   bool // buy and sell quantities differed
}

// SymbolResult is the matching outcome for one symbol.
type SymbolResult struct {
	Symbol         string
	RealizedPnL    decimal.Decimal
	MatchedQty     decimal.Decimal
	Pairs          []Pair
	UnmatchedBuys  int // open position left in the buy queue
	UnmatchedSells int
}

// Result is the matching outcome across all symbols.
type Result struct {
	RealizedPnL decimal.Decimal
	Symbols     []SymbolResult // sorted by symbol
	Mismatches  int
	Skipped     int // executions without quantity or price
}

// Symbol returns the result for symbol, false if it had no executions.
func (r *Result) Symbol(symbol string) (SymbolResult, bool) {
	for _, s := range r.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolResult{}, false
}

// Matcher runs the lenient FIFO engine.
type Matcher struct {
	logger *zap.Logger
}

// NewMatcher creates a new Matcher.
func NewMatcher(logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{logger: logger.Named("fifo")}
}

// Match pairs buys and sells per symbol in fill-time order and sums realized P&L.
// The input slice is not modified.
func (m *Matcher) Match(execs []Execution) *Result {
	result := &Result{RealizedPnL: decimal.Zero}

	usable := make([]Execution, 0, len(execs))
	for _, e := range execs {
		if e.Quantity == nil || e.Price == nil {
			m.logger.Warn("skipping execution without quantity or price",
				zap.String("id", e.ID),
				zap.String("symbol", e.Symbol))
			result.Skipped++
			continue
		}
		usable = append(usable, e)
	}

	// Ties on timestamp are broken by id so the outcome does not depend on input order.
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].Timestamp.Equal(usable[j].Timestamp) {
			return usable[i].ID < usable[j].ID
		}
		return usable[i].Timestamp.Before(usable[j].Timestamp)
	})

	type queues struct{ buys, sells []Execution }
	bySymbol := make(map[string]*queues)
	var symbols []string
	for _, e := range usable {
		q, ok := bySymbol[e.Symbol]
		if !ok {
			q = &queues{}
			bySymbol[e.Symbol] = q
			symbols = append(symbols, e.Symbol)
		}
		switch e.Direction {
		case domain.DirectionBuy:
			q.buys = append(q.buys, e)
		case domain.DirectionSell:
			q.sells = append(q.sells, e)
		default:
			m.logger.Warn("skipping execution with unknown direction",
				zap.String("id", e.ID),
				zap.String("direction", string(e.Direction)))
			result.Skipped++
		}
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		q := bySymbol[sym]
		sr := m.matchSymbol(sym, q.buys, q.sells)
		for _, p := range sr.Pairs {
			if p.Mismatch {
				result.Mismatches++
			}
		}
		result.RealizedPnL = result.RealizedPnL.Add(sr.RealizedPnL)
		result.Symbols = append(result.Symbols, sr)
	}
	return result
}

func (m *Matcher) matchSymbol(symbol string, buys, sells []Execution) SymbolResult {
	sr := SymbolResult{Symbol: symbol, RealizedPnL: decimal.Zero, MatchedQty: decimal.Zero}

	i, j := 0, 0
	for i < len(buys) && j < len(sells) {
		buy, sell := buys[i], sells[j]
		bq, sq := *buy.Quantity, *sell.Quantity

		matched := decimal.Min(bq, sq)
		pnl := sell.Price.Sub(*buy.Price).Mul(matched)
		pair := Pair{
			BuyID:      buy.ID,
			SellID:     sell.ID,
			MatchedQty: matched,
			BuyPrice:   *buy.Price,
			SellPrice:  *sell.Price,
			PnL:        pnl,
			Mismatch:   !bq.Equal(sq),
		}
		if pair.Mismatch {
			m.logger.Warn("fifo quantity mismatch, matching minimum",
				zap.String("symbol", symbol),
				zap.String("buy_id", buy.ID),
				zap.String("sell_id", sell.ID),
				zap.String("buy_qty", bq.String()),
				zap.String("sell_qty", sq.String()),
				zap.String("matched_qty", matched.String()))
		}

		sr.Pairs = append(sr.Pairs, pair)
		sr.RealizedPnL = sr.RealizedPnL.Add(pnl)
		sr.MatchedQty = sr.MatchedQty.Add(matched)
		i++
		j++
	}

	sr.UnmatchedBuys = len(buys) - i
	sr.UnmatchedSells = len(sells) - j
	return sr
}

// FromLinks converts strategy links into executions carrying the strategy's share.
// Links without raw quantity or price keep nil fields and are skipped by Match.
func FromLinks(links []*domain.StrategyTradeLink) []Execution {
	out := make([]Execution, 0, len(links))
	for _, l := range links {
		e := Execution{
			ID:        l.OrderID,
			Symbol:    l.Symbol,
			Direction: l.Direction,
			Price:     l.Price,
			Timestamp: l.FillTimestamp,
		}
		if l.Quantity != nil {
			qty := l.AttributedQty()
			e.Quantity = &qty
		}
		out = append(out, e)
	}
	return out
}

// FromTrades converts whole trade records into executions.
func FromTrades(trades []*domain.TradeRecord) []Execution {
	out := make([]Execution, 0, len(trades))
	for _, t := range trades {
		qty, price := t.FilledQty, t.FillPrice
		out = append(out, Execution{
			ID:        t.OrderID,
			Symbol:    t.Symbol,
			Direction: t.Direction,
			Quantity:  &qty,
			Price:     &price,
			Timestamp: t.FillTimestamp,
		})
	}
	return out
}
