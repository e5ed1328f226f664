package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validTrade() *TradeRecord {
	return &TradeRecord{
		OrderID:       "ord-1",
		CorrelationID: "corr-1",
		CausationID:   "sig-1",
		Symbol:        "aapl",
		Direction:     DirectionBuy,
		FilledQty:     d("10"),
		FillPrice:     d("100"),
		FillTimestamp: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		OrderType:     OrderTypeMarket,
	}
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights map[string]decimal.Decimal
		wantErr bool
	}{
		{"split 60/40", map[string]decimal.Decimal{"A": d("0.6"), "B": d("0.4")}, false},
		{"sum 0.5", map[string]decimal.Decimal{"A": d("0.5")}, true},
		{"empty", map[string]decimal.Decimal{}, true},
		{"nil", nil, true},
		{"within upper tolerance", map[string]decimal.Decimal{"A": d("0.51"), "B": d("0.5")}, false},
		{"above upper tolerance", map[string]decimal.Decimal{"A": d("0.52"), "B": d("0.5")}, true},
		{"negative weight", map[string]decimal.Decimal{"A": d("1.5"), "B": d("-0.5")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeights(tt.weights)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidWeights) {
					t.Errorf("ValidateWeights() error = %v, want ErrInvalidWeights", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateWeights() unexpected error: %v", err)
			}
		})
	}
}

func TestTradeRecord_Validate(t *testing.T) {
	tr := validTrade()
	if err := tr.Validate(); err != nil {
		t.Fatalf("valid trade rejected: %v", err)
	}

	cases := map[string]func(*TradeRecord){
		"missing order id": func(t *TradeRecord) { t.OrderID = "" },
		"zero qty":         func(t *TradeRecord) { t.FilledQty = decimal.Zero },
		"negative price":   func(t *TradeRecord) { t.FillPrice = d("-1") },
		"long symbol":      func(t *TradeRecord) { t.Symbol = "ABCDEFGHIJK" },
		"key separator":    func(t *TradeRecord) { t.Symbol = "A#B" },
		"bad direction":    func(t *TradeRecord) { t.Direction = "HOLD" },
		"bad order type":   func(t *TradeRecord) { t.OrderType = "ICEBERG" },
		"negative bid": func(t *TradeRecord) {
			bid := d("-0.01")
			t.BidAtFill = &bid
		},
		"zero timestamp": func(t *TradeRecord) { t.FillTimestamp = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tr := validTrade()
			mutate(tr)
			if err := tr.Validate(); !errors.Is(err, ErrInvalidTrade) {
				t.Errorf("Validate() error = %v, want ErrInvalidTrade", err)
			}
		})
	}
}

func TestTradeRecord_Normalize(t *testing.T) {
	tr := validTrade()
	tr.Symbol = "  msft "
	tr.FillTimestamp = time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))

	if err := tr.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if tr.Symbol != "MSFT" {
		t.Errorf("Symbol = %q, want MSFT", tr.Symbol)
	}
	if tr.FillTimestamp.Location() != time.UTC || tr.FillTimestamp.Hour() != 14 {
		t.Errorf("FillTimestamp = %v, want 14:30 UTC", tr.FillTimestamp)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	accepted := map[string]string{
		" brk.b ": "BRK.B",
		"btc/usd": "BTC/USD",
		"es-2024": "ES-2024",
	}
	for in, want := range accepted {
		got, err := NormalizeSymbol(in)
		if err != nil || got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, in := range []string{"A#B", "AA PL", "SPY*", "€UR"} {
		if _, err := NormalizeSymbol(in); err == nil {
			t.Errorf("NormalizeSymbol(%q) accepted", in)
		}
	}
}

func TestTradeRecord_AttributionsEqualSplit(t *testing.T) {
	tr := validTrade()
	tr.StrategyNames = []string{"momentum", "value", "momentum"}

	attrs, err := tr.Attributions()
	if err != nil {
		t.Fatalf("Attributions failed: %v", err)
	}
	if len(attrs) != 2 {
		t.Fatalf("len(attrs) = %d, want 2", len(attrs))
	}
	if attrs[0].StrategyName != "momentum" || attrs[1].StrategyName != "value" {
		t.Errorf("unexpected order: %+v", attrs)
	}
	if !attrs[0].Weight.Equal(d("0.5")) {
		t.Errorf("weight = %s, want 0.5", attrs[0].Weight)
	}
}

func TestTradeRecord_AttributionsNameWithoutWeight(t *testing.T) {
	tr := validTrade()
	tr.StrategyNames = []string{"A", "C"}
	tr.StrategyWeights = map[string]decimal.Decimal{"A": d("0.6"), "B": d("0.4")}

	if _, err := tr.Attributions(); !errors.Is(err, ErrInvalidWeights) {
		t.Errorf("expected ErrInvalidWeights, got %v", err)
	}
}

func TestBuildLinks(t *testing.T) {
	tr := validTrade()
	tr.Symbol = "AAPL"
	tr.StrategyWeights = map[string]decimal.Decimal{"A": d("0.6"), "B": d("0.4")}

	links, err := BuildLinks(tr)
	if err != nil {
		t.Fatalf("BuildLinks failed: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}

	a := links[0]
	if a.StrategyName != "A" {
		t.Fatalf("first link = %s, want A", a.StrategyName)
	}
	if !a.WeightedNotional.Equal(d("600")) {
		t.Errorf("WeightedNotional = %s, want 600", a.WeightedNotional)
	}
	if !a.AttributedQty().Equal(d("6")) {
		t.Errorf("AttributedQty = %s, want 6", a.AttributedQty())
	}
	if !a.Matchable() {
		t.Error("link should carry raw quantity and price")
	}
}

func TestBuildLinks_NoAttribution(t *testing.T) {
	links, err := BuildLinks(validTrade())
	if err != nil {
		t.Fatalf("BuildLinks failed: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("expected no links, got %d", len(links))
	}
}
