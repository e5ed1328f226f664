package fifo

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"strategy-ledger/internal/domain"
)

// ErrQuantityMismatch is returned when lot exit records are inconsistent with the lot.
var ErrQuantityMismatch = errors.New("fifo quantity mismatch")

// VerifyLot checks a lot's exit records against its entry.
// Exits must be positive, sum to entry_qty - remaining_qty and carry realized P&L equal to (exit_price - entry_price) * exit_qty.
func VerifyLot(lot *domain.StrategyLot) error {
	if lot.RemainingQty.IsNegative() {
		return fmt.Errorf("%w: lot %s has negative remaining qty %s",
			ErrQuantityMismatch, lot.LotID, lot.RemainingQty.String())
	}

	exited := decimal.Zero
	for i, e := range lot.ExitRecords {
		if !e.ExitQty.IsPositive() {
			return fmt.Errorf("%w: lot %s exit %d has non-positive qty %s",
				ErrQuantityMismatch, lot.LotID, i, e.ExitQty.String())
		}
		want := e.ExitPrice.Sub(lot.EntryPrice).Mul(e.ExitQty)
		if !e.RealizedPnL.Equal(want) {
			return fmt.Errorf("%w: lot %s exit %d realized pnl %s, expected %s",
				ErrQuantityMismatch, lot.LotID, i, e.RealizedPnL.String(), want.String())
		}
		exited = exited.Add(e.ExitQty)
	}

	if exited.GreaterThan(lot.EntryQty) {
		return fmt.Errorf("%w: lot %s exited %s exceeds entry %s",
			ErrQuantityMismatch, lot.LotID, exited.String(), lot.EntryQty.String())
	}
	if !lot.EntryQty.Sub(exited).Equal(lot.RemainingQty) {
		return fmt.Errorf("%w: lot %s remaining %s, expected %s",
			ErrQuantityMismatch, lot.LotID, lot.RemainingQty.String(), lot.EntryQty.Sub(exited).String())
	}
	return nil
}

// MatchLots verifies every lot and returns the realized P&L of all exits.
// Unlike Match it never minimizes a mismatch; the first inconsistency is returned.
func MatchLots(lots []*domain.StrategyLot) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, lot := range lots {
		if err := VerifyLot(lot); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(lot.RealizedPnL())
	}
	return total, nil
}
