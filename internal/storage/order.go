package storage

import (
	"sort"

	"strategy-ledger/internal/domain"
)

// ApplyLimit truncates items to limit. Limit <= 0 means no limit.
func ApplyLimit[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// SortClosedLots orders closed lots by close time, most recent first.
// The lot index orders closed lots by symbol before time.
func SortClosedLots(lots []*domain.StrategyLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, _ := lots[i].ClosedAt()
		b, _ := lots[j].ClosedAt()
		if a.Equal(b) {
			return lots[i].LotID > lots[j].LotID
		}
		return a.After(b)
	})
}

// SortLotsByEntry orders lots by entry time, oldest first.
func SortLotsByEntry(lots []*domain.StrategyLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if lots[i].EntryTimestamp.Equal(lots[j].EntryTimestamp) {
			return lots[i].LotID < lots[j].LotID
		}
		return lots[i].EntryTimestamp.Before(lots[j].EntryTimestamp)
	})
}

// FilterLotsBySymbol keeps lots of exactly symbol. Open-lot index prefixes
// can match lots written before symbols were restricted.
func FilterLotsBySymbol(lots []*domain.StrategyLot, symbol string) []*domain.StrategyLot {
	out := lots[:0]
	for _, l := range lots {
		if l.Symbol == symbol {
			out = append(out, l)
		}
	}
	return out
}
