package fifo

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strategy-ledger/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func exec(id, symbol string, dir domain.Direction, qty, price string, minute int) Execution {
	return Execution{
		ID:        id,
		Symbol:    symbol,
		Direction: dir,
		Quantity:  d(qty),
		Price:     d(price),
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
	}
}

func TestMatch_MismatchAdvancesBothCursors(t *testing.T) {
	// buy 10@100, sell 6@110, sell 4@115: only the first sell pairs.
	execs := []Execution{
		exec("b1", "AAPL", domain.DirectionBuy, "10", "100", 0),
		exec("s1", "AAPL", domain.DirectionSell, "6", "110", 1),
		exec("s2", "AAPL", domain.DirectionSell, "4", "115", 2),
	}

	res := NewMatcher(nil).Match(execs)

	if !res.RealizedPnL.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected realized pnl 60, got %s", res.RealizedPnL)
	}
	if res.Mismatches != 1 {
		t.Errorf("expected 1 mismatch, got %d", res.Mismatches)
	}
	sr, ok := res.Symbol("AAPL")
	if !ok {
		t.Fatal("expected AAPL result")
	}
	if sr.UnmatchedBuys != 0 || sr.UnmatchedSells != 1 {
		t.Errorf("expected 0 unmatched buys and 1 unmatched sell, got %d/%d", sr.UnmatchedBuys, sr.UnmatchedSells)
	}
	if len(sr.Pairs) != 1 || !sr.Pairs[0].MatchedQty.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected one pair of qty 6, got %+v", sr.Pairs)
	}
}

func TestMatch_BalancedIsOrderIndependent(t *testing.T) {
	execs := []Execution{
		exec("b1", "AAPL", domain.DirectionBuy, "10", "100", 0),
		exec("b2", "MSFT", domain.DirectionBuy, "5", "300", 1),
		exec("s1", "AAPL", domain.DirectionSell, "10", "120", 2),
		exec("b3", "AAPL", domain.DirectionBuy, "4", "110", 3),
		exec("s2", "MSFT", domain.DirectionSell, "5", "290", 4),
		exec("s3", "AAPL", domain.DirectionSell, "4", "105", 5),
	}
	// AAPL: (120-100)*10 + (105-110)*4 = 180; MSFT: (290-300)*5 = -50
	want := decimal.NewFromInt(130)

	m := NewMatcher(nil)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Execution(nil), execs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		res := m.Match(shuffled)
		if !res.RealizedPnL.Equal(want) {
			t.Fatalf("permutation %d: expected %s, got %s", i, want, res.RealizedPnL)
		}
		if res.Mismatches != 0 {
			t.Fatalf("permutation %d: expected no mismatches, got %d", i, res.Mismatches)
		}
	}
}

func TestMatch_SortsByParsedTimeAcrossOffsets(t *testing.T) {
	// 09:00-05:00 is 14:00 UTC, later than 13:30 UTC although it sorts first as a string.
	est := time.FixedZone("EST", -5*3600)
	buy := Execution{ID: "b", Symbol: "AAPL", Direction: domain.DirectionBuy, Quantity: d("1"), Price: d("100"),
		Timestamp: time.Date(2024, 3, 1, 13, 30, 0, 0, time.UTC)}
	sell := Execution{ID: "s", Symbol: "AAPL", Direction: domain.DirectionSell, Quantity: d("1"), Price: d("90"),
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, est)}
	lateBuy := Execution{ID: "b2", Symbol: "AAPL", Direction: domain.DirectionBuy, Quantity: d("1"), Price: d("50"),
		Timestamp: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)}

	res := NewMatcher(nil).Match([]Execution{sell, lateBuy, buy})
	if !res.RealizedPnL.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expected -10, got %s", res.RealizedPnL)
	}
}

func TestMatch_SkipsMissingQuantityOrPrice(t *testing.T) {
	execs := []Execution{
		exec("b1", "AAPL", domain.DirectionBuy, "10", "100", 0),
		{ID: "legacy", Symbol: "AAPL", Direction: domain.DirectionSell, Price: d("500"), Timestamp: t0.Add(time.Minute)},
		exec("s1", "AAPL", domain.DirectionSell, "10", "101", 2),
	}

	res := NewMatcher(nil).Match(execs)
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", res.Skipped)
	}
	if !res.RealizedPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected 10, got %s", res.RealizedPnL)
	}
}

func TestMatch_OpenPositionExcluded(t *testing.T) {
	execs := []Execution{
		exec("b1", "AAPL", domain.DirectionBuy, "10", "100", 0),
		exec("b2", "AAPL", domain.DirectionBuy, "10", "200", 1),
		exec("s1", "AAPL", domain.DirectionSell, "10", "150", 2),
	}

	res := NewMatcher(nil).Match(execs)
	if !res.RealizedPnL.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected 500, got %s", res.RealizedPnL)
	}
	sr, _ := res.Symbol("AAPL")
	if sr.UnmatchedBuys != 1 {
		t.Errorf("expected 1 unmatched buy, got %d", sr.UnmatchedBuys)
	}
}

func TestFromLinks_UsesAttributedQuantity(t *testing.T) {
	links := []*domain.StrategyTradeLink{
		{OrderID: "b1", Symbol: "AAPL", Direction: domain.DirectionBuy, Weight: *d("0.5"),
			Quantity: d("10"), Price: d("100"), FillTimestamp: t0},
		{OrderID: "s1", Symbol: "AAPL", Direction: domain.DirectionSell, Weight: *d("0.5"),
			Quantity: d("10"), Price: d("110"), FillTimestamp: t0.Add(time.Minute)},
		{OrderID: "old", Symbol: "AAPL", Direction: domain.DirectionSell, Weight: *d("1"), FillTimestamp: t0},
	}

	execs := FromLinks(links)
	if !execs[0].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected attributed qty 5, got %s", execs[0].Quantity)
	}
	if execs[2].Quantity != nil {
		t.Error("expected nil quantity for legacy link")
	}

	res := NewMatcher(nil).Match(execs)
	if !res.RealizedPnL.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected 50, got %s", res.RealizedPnL)
	}
}

func TestFromTrades(t *testing.T) {
	trades := []*domain.TradeRecord{
		{OrderID: "b1", Symbol: "AAPL", Direction: domain.DirectionBuy, FilledQty: *d("2"), FillPrice: *d("10"), FillTimestamp: t0},
		{OrderID: "s1", Symbol: "AAPL", Direction: domain.DirectionSell, FilledQty: *d("2"), FillPrice: *d("12.5"), FillTimestamp: t0.Add(time.Second)},
	}

	res := NewMatcher(nil).Match(FromTrades(trades))
	if !res.RealizedPnL.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected 5, got %s", res.RealizedPnL)
	}
}

func testLot() *domain.StrategyLot {
	return &domain.StrategyLot{
		LotID:          "lot-1",
		StrategyName:   "nuclear",
		Symbol:         "AAPL",
		EntryTradeID:   "b1",
		EntryQty:       *d("10"),
		EntryPrice:     *d("100"),
		EntryTimestamp: t0,
		RemainingQty:   *d("10"),
	}
}

func TestVerifyLot(t *testing.T) {
	lot := testLot()
	if _, err := lot.ApplyExit("s1", *d("6"), *d("110"), t0.Add(time.Hour)); err != nil {
		t.Fatalf("ApplyExit failed: %v", err)
	}
	if _, err := lot.ApplyExit("s2", *d("4"), *d("90"), t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("ApplyExit failed: %v", err)
	}
	if err := VerifyLot(lot); err != nil {
		t.Fatalf("expected consistent lot, got %v", err)
	}

	pnl, err := MatchLots([]*domain.StrategyLot{lot, testLot()})
	if err != nil {
		t.Fatalf("MatchLots failed: %v", err)
	}
	if !pnl.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected 20, got %s", pnl)
	}
}

func TestVerifyLot_Inconsistencies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *domain.StrategyLot)
	}{
		{"remaining does not match exits", func(l *domain.StrategyLot) {
			l.RemainingQty = *d("5")
		}},
		{"exits exceed entry", func(l *domain.StrategyLot) {
			l.RemainingQty = decimal.Zero
			l.ExitRecords = []domain.ExitRecord{
				{TradeID: "s1", ExitQty: *d("12"), ExitPrice: *d("100"), ExitTimestamp: t0, RealizedPnL: decimal.Zero},
			}
		}},
		{"wrong realized pnl", func(l *domain.StrategyLot) {
			l.RemainingQty = *d("8")
			l.ExitRecords = []domain.ExitRecord{
				{TradeID: "s1", ExitQty: *d("2"), ExitPrice: *d("110"), ExitTimestamp: t0, RealizedPnL: *d("10")},
			}
		}},
		{"zero exit qty", func(l *domain.StrategyLot) {
			l.ExitRecords = []domain.ExitRecord{
				{TradeID: "s1", ExitQty: decimal.Zero, ExitPrice: *d("110"), ExitTimestamp: t0, RealizedPnL: decimal.Zero},
			}
		}},
		{"negative remaining", func(l *domain.StrategyLot) {
			l.RemainingQty = *d("-1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lot := testLot()
			tt.mutate(lot)
			if err := VerifyLot(lot); !errors.Is(err, ErrQuantityMismatch) {
				t.Errorf("expected ErrQuantityMismatch, got %v", err)
			}
			if _, err := MatchLots([]*domain.StrategyLot{lot}); !errors.Is(err, ErrQuantityMismatch) {
				t.Errorf("MatchLots: expected ErrQuantityMismatch, got %v", err)
			}
		})
	}
}
