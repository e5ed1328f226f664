package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExitRecord is one exit matched against a lot.
type ExitRecord struct {
	TradeID       string          `json:"trade_id"`
	ExitQty       decimal.Decimal `json:"exit_qty"`
	ExitPrice     decimal.Decimal `json:"exit_price"`
	ExitTimestamp time.Time       `json:"exit_timestamp"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"` // (exit_price - entry_price) * exit_qty
}

// StrategyLot is one entry position slice owned by a strategy and symbol.
// A lot is closed once RemainingQty reaches zero and is immutable afterwards.
type StrategyLot struct {
	LotID          string          `json:"lot_id"`
	StrategyName   string          `json:"strategy_name"`
	Symbol         string          `json:"symbol"`
	EntryTradeID   string          `json:"entry_trade_id"`
	EntryQty       decimal.Decimal `json:"entry_qty"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	EntryTimestamp time.Time       `json:"entry_timestamp"`
	RemainingQty   decimal.Decimal `json:"remaining_qty"`
	ExitRecords    []ExitRecord    `json:"exit_records"`

	// Version increases on every successful update; stores reject stale writes.
	Version int64 `json:"version"`
}

// IsOpen reports whether quantity remains.
func (l *StrategyLot) IsOpen() bool {
	return l.RemainingQty.IsPositive()
}

// HasExits reports whether at least one exit was matched (a completed trade).
func (l *StrategyLot) HasExits() bool {
	return len(l.ExitRecords) > 0
}

// RealizedPnL sums the realized P&L of all exits.
func (l *StrategyLot) RealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, e := range l.ExitRecords {
		total = total.Add(e.RealizedPnL)
	}
	return total
}

// ExitedQty sums exit quantities.
func (l *StrategyLot) ExitedQty() decimal.Decimal {
	total := decimal.Zero
	for _, e := range l.ExitRecords {
		total = total.Add(e.ExitQty)
	}
	return total
}

// ExitedQtyForTrade sums the exit quantity already matched for one trade.
func (l *StrategyLot) ExitedQtyForTrade(tradeID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range l.ExitRecords {
		if e.TradeID == tradeID {
			total = total.Add(e.ExitQty)
		}
	}
	return total
}

// ClosedAt returns the timestamp of the final exit of a closed lot.
func (l *StrategyLot) ClosedAt() (time.Time, bool) {
	if l.IsOpen() || len(l.ExitRecords) == 0 {
		return time.Time{}, false
	}
	return l.ExitRecords[len(l.ExitRecords)-1].ExitTimestamp, true
}

// CostBasis returns remaining_qty * entry_price.
func (l *StrategyLot) CostBasis() decimal.Decimal {
	return l.RemainingQty.Mul(l.EntryPrice)
}

// EntryValue returns entry_qty * entry_price.
func (l *StrategyLot) EntryValue() decimal.Decimal {
	return l.EntryQty.Mul(l.EntryPrice)
}

// ApplyExit matches qty at price against the lot and appends the exit record.
func (l *StrategyLot) ApplyExit(tradeID string, qty, price decimal.Decimal, ts time.Time) (ExitRecord, error) {
	if !l.IsOpen() {
		return ExitRecord{}, fmt.Errorf("%w: lot %s is closed", ErrInvalidLot, l.LotID)
	}
	if !qty.IsPositive() {
		return ExitRecord{}, fmt.Errorf("%w: exit qty must be > 0", ErrInvalidLot)
	}
	if qty.GreaterThan(l.RemainingQty) {
		return ExitRecord{}, fmt.Errorf("%w: exit qty %s exceeds remaining %s on lot %s",
			ErrInvalidLot, qty.String(), l.RemainingQty.String(), l.LotID)
	}

	exit := ExitRecord{
		TradeID:       tradeID,
		ExitQty:       qty,
		ExitPrice:     price,
		ExitTimestamp: ts.UTC(),
		RealizedPnL:   price.Sub(l.EntryPrice).Mul(qty),
	}
	l.RemainingQty = l.RemainingQty.Sub(qty)
	l.ExitRecords = append(l.ExitRecords, exit)
	return exit, nil
}

// Validate checks field constraints and quantity bounds.
func (l *StrategyLot) Validate() error {
	if l.LotID == "" || l.StrategyName == "" || l.Symbol == "" {
		return fmt.Errorf("%w: lot_id, strategy_name and symbol are required", ErrInvalidLot)
	}
	if !l.EntryQty.IsPositive() || !l.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry qty and price must be > 0", ErrInvalidLot)
	}
	if l.RemainingQty.IsNegative() || l.RemainingQty.GreaterThan(l.EntryQty) {
		return fmt.Errorf("%w: remaining qty %s outside [0, %s]",
			ErrInvalidLot, l.RemainingQty.String(), l.EntryQty.String())
	}
	return nil
}

// Clone returns a deep copy.
func (l *StrategyLot) Clone() *StrategyLot {
	c := *l
	c.ExitRecords = append([]ExitRecord(nil), l.ExitRecords...)
	return &c
}
