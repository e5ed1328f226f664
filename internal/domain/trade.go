package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Data-integrity errors. Records failing these checks are rejected before persistence.
var (
	ErrInvalidTrade   = errors.New("invalid trade record")
	ErrInvalidWeights = errors.New("invalid strategy weights")
	ErrInvalidSignal  = errors.New("invalid signal record")
	ErrInvalidLot     = errors.New("invalid strategy lot")
)

// Direction is the side of a fill.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderType is the order type that produced a fill.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// Valid reports whether o is a known order type.
func (o OrderType) Valid() bool {
	switch o {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// MaxSymbolLength is the longest accepted instrument symbol.
const MaxSymbolLength = 10

// Accepted range for the sum of strategy weights.
var (
	WeightSumMin = decimal.RequireFromString("0.99")
	WeightSumMax = decimal.RequireFromString("1.01")
)

// TradeRecord represents one fill reported by the execution collaborator.
// Append-only: identified by OrderID, never updated after it is stored.
type TradeRecord struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
	LedgerID      string `json:"ledger_id"`           // derived when empty
	SignalID      string `json:"signal_id,omitempty"` // signal that caused the fill (optional)

	Symbol        string          `json:"symbol"` // uppercase, <= 10 chars
	Direction     Direction       `json:"direction"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	FillTimestamp time.Time       `json:"fill_timestamp"`
	OrderType     OrderType       `json:"order_type"`

	BidAtFill *decimal.Decimal `json:"bid_at_fill,omitempty"` // nullable
	AskAtFill *decimal.Decimal `json:"ask_at_fill,omitempty"` // nullable

	StrategyNames   []string                   `json:"strategy_names,omitempty"`
	StrategyWeights map[string]decimal.Decimal `json:"strategy_weights,omitempty"`
}

// Attribution is the share of a trade owned by one strategy.
type Attribution struct {
	StrategyName string
	Weight       decimal.Decimal
}

// NormalizeSymbol trims and uppercases a symbol and enforces the length
// bound. Symbols are limited to A-Z, 0-9, '.', '/' and '-'.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", errors.New("symbol is required")
	}
	if len(s) > MaxSymbolLength {
		return "", fmt.Errorf("symbol %q exceeds %d characters", s, MaxSymbolLength)
	}
	for _, c := range s {
		if !symbolChar(c) {
			return "", fmt.Errorf("symbol %q contains %q", s, c)
		}
	}
	return s, nil
}

func symbolChar(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '/', c == '-':
		return true
	}
	return false
}

// Normalize canonicalizes the symbol and converts the fill timestamp to UTC.
func (t *TradeRecord) Normalize() error {
	sym, err := NormalizeSymbol(t.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}
	t.Symbol = sym
	t.FillTimestamp = t.FillTimestamp.UTC()
	return nil
}

// Validate checks field constraints and strategy weights.
func (t *TradeRecord) Validate() error {
	if t.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrInvalidTrade)
	}
	if t.CorrelationID == "" {
		return fmt.Errorf("%w: correlation_id is required", ErrInvalidTrade)
	}
	if _, err := NormalizeSymbol(t.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}
	if !t.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidTrade, t.Direction)
	}
	if !t.OrderType.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidTrade, t.OrderType)
	}
	if !t.FilledQty.IsPositive() {
		return fmt.Errorf("%w: filled_qty must be > 0", ErrInvalidTrade)
	}
	if !t.FillPrice.IsPositive() {
		return fmt.Errorf("%w: fill_price must be > 0", ErrInvalidTrade)
	}
	if t.FillTimestamp.IsZero() {
		return fmt.Errorf("%w: fill_timestamp is required", ErrInvalidTrade)
	}
	if t.BidAtFill != nil && t.BidAtFill.IsNegative() {
		return fmt.Errorf("%w: bid_at_fill must be >= 0", ErrInvalidTrade)
	}
	if t.AskAtFill != nil && t.AskAtFill.IsNegative() {
		return fmt.Errorf("%w: ask_at_fill must be >= 0", ErrInvalidTrade)
	}
	_, err := t.Attributions()
	return err
}

// Notional returns filled_qty * fill_price.
func (t *TradeRecord) Notional() decimal.Decimal {
	return t.FilledQty.Mul(t.FillPrice)
}

// HasAttribution reports whether the trade names any strategy.
func (t *TradeRecord) HasAttribution() bool {
	return len(t.StrategyNames) > 0 || t.StrategyWeights != nil
}

// Attributions resolves the per-strategy weights, sorted by strategy name.
//
// Weights, when present, must be non-empty, positive and sum to 1 within
// [WeightSumMin, WeightSumMax]. Names without weights split equally.
// A trade with neither has no attribution.
func (t *TradeRecord) Attributions() ([]Attribution, error) {
	if t.StrategyWeights != nil {
		return weightedAttributions(t.StrategyNames, t.StrategyWeights)
	}

	names := uniqueNames(t.StrategyNames)
	if len(names) == 0 {
		return nil, nil
	}
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("%w: empty strategy name", ErrInvalidWeights)
		}
	}
	share := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(names))))
	out := make([]Attribution, len(names))
	for i, n := range names {
		out[i] = Attribution{StrategyName: n, Weight: share}
	}
	return out, nil
}

// ValidateWeights checks a weight mapping on its own.
func ValidateWeights(weights map[string]decimal.Decimal) error {
	_, err := weightedAttributions(nil, weights)
	return err
}

func weightedAttributions(names []string, weights map[string]decimal.Decimal) ([]Attribution, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: weight mapping is empty", ErrInvalidWeights)
	}

	sum := decimal.Zero
	out := make([]Attribution, 0, len(weights))
	for name, w := range weights {
		if name == "" {
			return nil, fmt.Errorf("%w: empty strategy name", ErrInvalidWeights)
		}
		if !w.IsPositive() {
			return nil, fmt.Errorf("%w: weight for %s must be > 0", ErrInvalidWeights, name)
		}
		sum = sum.Add(w)
		out = append(out, Attribution{StrategyName: name, Weight: w})
	}
	if sum.LessThan(WeightSumMin) || sum.GreaterThan(WeightSumMax) {
		return nil, fmt.Errorf("%w: weights sum to %s, want %s-%s",
			ErrInvalidWeights, sum.String(), WeightSumMin.String(), WeightSumMax.String())
	}
	for _, n := range names {
		if _, ok := weights[n]; !ok {
			return nil, fmt.Errorf("%w: strategy %s has no weight", ErrInvalidWeights, n)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StrategyName < out[j].StrategyName })
	return out, nil
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// StrategyTradeLink is the attribution of one trade to one strategy.
// Quantity and Price are nil on legacy rows written before raw values were kept.
type StrategyTradeLink struct {
	OrderID          string           `json:"order_id"`
	StrategyName     string           `json:"strategy_name"`
	CorrelationID    string           `json:"correlation_id"`
	Symbol           string           `json:"symbol"`
	Direction        Direction        `json:"direction"`
	Weight           decimal.Decimal  `json:"weight"`
	WeightedNotional decimal.Decimal  `json:"weighted_notional"`
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	FillTimestamp    time.Time        `json:"fill_timestamp"`
}

// Matchable reports whether the link carries the raw values needed for matching.
func (l *StrategyTradeLink) Matchable() bool {
	return l.Quantity != nil && l.Price != nil
}

// AttributedQty returns the strategy's share of the filled quantity.
func (l *StrategyTradeLink) AttributedQty() decimal.Decimal {
	if l.Quantity == nil {
		return decimal.Zero
	}
	return l.Quantity.Mul(l.Weight)
}

// Clone returns a deep copy.
func (l *StrategyTradeLink) Clone() *StrategyTradeLink {
	c := *l
	if l.Quantity != nil {
		q := *l.Quantity
		c.Quantity = &q
	}
	if l.Price != nil {
		p := *l.Price
		c.Price = &p
	}
	return &c
}

// BuildLinks derives one attribution link per strategy named on the trade.
func BuildLinks(t *TradeRecord) ([]StrategyTradeLink, error) {
	attrs, err := t.Attributions()
	if err != nil {
		return nil, err
	}
	notional := t.Notional()
	links := make([]StrategyTradeLink, 0, len(attrs))
	for _, a := range attrs {
		qty := t.FilledQty
		price := t.FillPrice
		links = append(links, StrategyTradeLink{
			OrderID:          t.OrderID,
			StrategyName:     a.StrategyName,
			CorrelationID:    t.CorrelationID,
			Symbol:           t.Symbol,
			Direction:        t.Direction,
			Weight:           a.Weight,
			WeightedNotional: notional.Mul(a.Weight),
			Quantity:         &qty,
			Price:            &price,
			FillTimestamp:    t.FillTimestamp,
		})
	}
	return links, nil
}

// Clone returns a deep copy.
func (t *TradeRecord) Clone() *TradeRecord {
	c := *t
	c.StrategyNames = append([]string(nil), t.StrategyNames...)
	if t.StrategyWeights != nil {
		c.StrategyWeights = make(map[string]decimal.Decimal, len(t.StrategyWeights))
		for k, v := range t.StrategyWeights {
			c.StrategyWeights[k] = v
		}
	}
	return &c
}
