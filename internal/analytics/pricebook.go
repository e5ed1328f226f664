package analytics

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strategy-ledger/internal/domain"
)

// PriceSource provides the latest known price per symbol.
type PriceSource interface {
	LatestPrice(symbol string) (decimal.Decimal, bool)
}

// Quote is a price observation.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// PriceBook keeps the latest quote per symbol. Safe for concurrent use.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewPriceBook creates an empty price book.
func NewPriceBook() *PriceBook {
	return &PriceBook{quotes: make(map[string]Quote)}
}

var _ PriceSource = (*PriceBook)(nil)

// Update records a quote unless a newer one is already known.
// Returns false for invalid or stale quotes.
func (b *PriceBook) Update(q Quote) bool {
	sym, err := domain.NormalizeSymbol(q.Symbol)
	if err != nil || !q.Price.IsPositive() {
		return false
	}
	q.Symbol = sym
	q.At = q.At.UTC()

	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[sym]; ok && q.At.Before(cur.At) {
		return false
	}
	b.quotes[sym] = q
	return true
}

// LatestPrice returns the latest price for symbol.
func (b *PriceBook) LatestPrice(symbol string) (decimal.Decimal, bool) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return decimal.Zero, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[sym]
	return q.Price, ok
}

// Len returns the number of symbols priced.
func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.quotes)
}
