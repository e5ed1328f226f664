package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testTrade(orderID, corr, symbol string, at time.Time) *domain.TradeRecord {
	return &domain.TradeRecord{
		OrderID:       orderID,
		CorrelationID: corr,
		Symbol:        symbol,
		Direction:     domain.DirectionBuy,
		FilledQty:     dec(10),
		FillPrice:     dec(100),
		FillTimestamp: at,
		OrderType:     domain.OrderTypeMarket,
		StrategyNames: []string{"nuclear"},
	}
}

func mustLinks(t *testing.T, tr *domain.TradeRecord) []domain.StrategyTradeLink {
	t.Helper()
	links, err := domain.BuildLinks(tr)
	if err != nil {
		t.Fatalf("BuildLinks: %v", err)
	}
	return links
}

func TestLedgerStore_PutTradeDuplicate(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	tr := testTrade("ord-1", "corr-1", "AAPL", t0)
	if err := store.PutTrade(ctx, tr, mustLinks(t, tr)); err != nil {
		t.Fatalf("PutTrade failed: %v", err)
	}

	err := store.PutTrade(ctx, tr, mustLinks(t, tr))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := store.QueryTradesBySymbol(ctx, "AAPL", storage.QueryOptions{})
	if err != nil {
		t.Fatalf("QueryTradesBySymbol failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected exactly one stored trade, got %d", len(got))
	}
}

func TestLedgerStore_PutTradeRejectsForeignLink(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	tr := testTrade("ord-1", "corr-1", "AAPL", t0)
	links := mustLinks(t, tr)
	links[0].OrderID = "ord-other"

	if err := store.PutTrade(ctx, tr, links); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.GetTrade(ctx, "ord-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("trade was partially written: %v", err)
	}
}

func TestLedgerStore_QueryOrderAndLimit(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	for i, id := range []string{"ord-1", "ord-2", "ord-3"} {
		tr := testTrade(id, "corr-1", "AAPL", t0.Add(time.Duration(i)*time.Minute))
		if err := store.PutTrade(ctx, tr, mustLinks(t, tr)); err != nil {
			t.Fatalf("PutTrade %s: %v", id, err)
		}
	}
	other := testTrade("ord-4", "corr-2", "MSFT", t0)
	if err := store.PutTrade(ctx, other, mustLinks(t, other)); err != nil {
		t.Fatalf("PutTrade: %v", err)
	}

	got, _ := store.QueryTradesByCorrelation(ctx, "corr-1", storage.QueryOptions{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].OrderID != "ord-3" || got[1].OrderID != "ord-2" {
		t.Errorf("order = %s, %s; want ord-3, ord-2", got[0].OrderID, got[1].OrderID)
	}

	links, _ := store.QueryStrategyTrades(ctx, "nuclear", storage.QueryOptions{})
	if len(links) != 4 {
		t.Errorf("strategy links = %d, want 4", len(links))
	}
}

func TestLedgerStore_QueryStrategyTradesSkipsLegacyLinks(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	tr := testTrade("ord-1", "corr-1", "AAPL", t0)
	links := mustLinks(t, tr)
	links[0].Quantity = nil
	if err := store.PutTrade(ctx, tr, links); err != nil {
		t.Fatalf("PutTrade: %v", err)
	}

	got, _ := store.QueryStrategyTrades(ctx, "nuclear", storage.QueryOptions{})
	if len(got) != 0 {
		t.Errorf("legacy link returned: %+v", got)
	}
}

func TestLedgerStore_StrategyTradesAreCopies(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	tr := testTrade("ord-1", "corr-1", "AAPL", t0)
	links := mustLinks(t, tr)
	if err := store.PutTrade(ctx, tr, links); err != nil {
		t.Fatalf("PutTrade: %v", err)
	}
	*links[0].Quantity = dec(99)

	got, _ := store.QueryStrategyTrades(ctx, "nuclear", storage.QueryOptions{})
	if len(got) != 1 {
		t.Fatalf("expected 1 link, got %d", len(got))
	}
	*got[0].Quantity = dec(1)
	*got[0].Price = dec(1)

	again, _ := store.QueryStrategyTrades(ctx, "nuclear", storage.QueryOptions{})
	if !again[0].Quantity.Equal(dec(10)) || !again[0].Price.Equal(dec(100)) {
		t.Errorf("stored link changed through a returned pointer: qty %s price %s",
			again[0].Quantity, again[0].Price)
	}
}

func testSignal(id string, at time.Time) *domain.SignalRecord {
	return &domain.SignalRecord{
		SignalID:         id,
		CorrelationID:    "corr-1",
		StrategyName:     "nuclear",
		Symbol:           "AAPL",
		Action:           domain.SignalActionBuy,
		TargetAllocation: decimal.RequireFromString("0.25"),
		LifecycleState:   domain.LifecycleGenerated,
		CreatedAt:        at,
	}
}

func TestLedgerStore_UpdateSignalLifecycle(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	sig := testSignal("sig-1", t0)
	if err := store.PutSignal(ctx, sig); err != nil {
		t.Fatalf("PutSignal: %v", err)
	}

	upd := storage.SignalLifecycleUpdate{
		SignalID:       "sig-1",
		ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated, domain.LifecycleExecuted},
		NewState:       domain.LifecycleExecuted,
		CreatedAt:      sig.CreatedAt,
		AppendTradeIDs: []string{"ord-1"},
	}
	if _, err := store.UpdateSignalLifecycle(ctx, upd); err != nil {
		t.Fatalf("first update: %v", err)
	}

	upd.AppendTradeIDs = []string{"ord-1", "ord-2"}
	got, err := store.UpdateSignalLifecycle(ctx, upd)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if len(got.ExecutedTradeIDs) != 2 || got.ExecutedTradeIDs[0] != "ord-1" || got.ExecutedTradeIDs[1] != "ord-2" {
		t.Errorf("ExecutedTradeIDs = %v", got.ExecutedTradeIDs)
	}

	generated, _ := store.QuerySignalsByLifecycleState(ctx, domain.LifecycleGenerated, storage.QueryOptions{})
	executed, _ := store.QuerySignalsByLifecycleState(ctx, domain.LifecycleExecuted, storage.QueryOptions{})
	if len(generated) != 0 || len(executed) != 1 {
		t.Errorf("lifecycle index not moved: generated=%d executed=%d", len(generated), len(executed))
	}

	_, err = store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
		SignalID:       "sig-1",
		ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated},
		NewState:       domain.LifecycleIgnored,
		CreatedAt:      sig.CreatedAt,
	})
	if !errors.Is(err, storage.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed, got %v", err)
	}

	_, err = store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
		SignalID:       "missing",
		ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated},
		NewState:       domain.LifecycleIgnored,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerStore_ConcurrentAppendsKeepEveryID(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	sig := testSignal("sig-1", t0)
	if err := store.PutSignal(ctx, sig); err != nil {
		t.Fatalf("PutSignal: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
				SignalID:       "sig-1",
				ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated, domain.LifecycleExecuted},
				NewState:       domain.LifecycleExecuted,
				CreatedAt:      sig.CreatedAt,
				AppendTradeIDs: []string{string(rune('a' + i))},
			})
			if err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.GetSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if len(got.ExecutedTradeIDs) != writers {
		t.Errorf("len(ExecutedTradeIDs) = %d, want %d", len(got.ExecutedTradeIDs), writers)
	}
}

func testLot(id, strategy, symbol string, entry time.Time, qty int64) *domain.StrategyLot {
	return &domain.StrategyLot{
		LotID:          id,
		StrategyName:   strategy,
		Symbol:         symbol,
		EntryTradeID:   "ord-" + id,
		EntryQty:       dec(qty),
		EntryPrice:     dec(100),
		EntryTimestamp: entry,
		RemainingQty:   dec(qty),
	}
}

func TestLedgerStore_LotVersioning(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	lot := testLot("lot-1", "nuclear", "AAPL", t0, 10)
	if err := store.PutLot(ctx, lot); err != nil {
		t.Fatalf("PutLot: %v", err)
	}

	a, _ := store.GetLot(ctx, "lot-1")
	b, _ := store.GetLot(ctx, "lot-1")

	if _, err := a.ApplyExit("ord-x", dec(4), dec(110), t0.Add(time.Hour)); err != nil {
		t.Fatalf("ApplyExit: %v", err)
	}
	if err := store.UpdateLot(ctx, a); err != nil {
		t.Fatalf("UpdateLot a: %v", err)
	}
	if a.Version != 1 {
		t.Errorf("Version = %d, want 1", a.Version)
	}

	if _, err := b.ApplyExit("ord-y", dec(4), dec(110), t0.Add(time.Hour)); err != nil {
		t.Fatalf("ApplyExit: %v", err)
	}
	if err := store.UpdateLot(ctx, b); !errors.Is(err, storage.ErrConditionFailed) {
		t.Errorf("stale update error = %v, want ErrConditionFailed", err)
	}

	got, _ := store.GetLot(ctx, "lot-1")
	if !got.RemainingQty.Equal(dec(6)) {
		t.Errorf("RemainingQty = %s, want 6", got.RemainingQty)
	}
}

func TestLedgerStore_LotQueries(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	lots := []*domain.StrategyLot{
		testLot("b", "nuclear", "AAPL", t0.Add(2*time.Hour), 5),
		testLot("a", "nuclear", "AAPL", t0.Add(1*time.Hour), 5),
		testLot("c", "nuclear", "MSFT", t0, 5),
		testLot("d", "solar", "AAPL", t0, 5),
	}
	for _, l := range lots {
		if err := store.PutLot(ctx, l); err != nil {
			t.Fatalf("PutLot %s: %v", l.LotID, err)
		}
	}

	open, _ := store.QueryOpenLots(ctx, "nuclear", "AAPL")
	if len(open) != 2 || open[0].LotID != "a" || open[1].LotID != "b" {
		t.Fatalf("open lots not FIFO ordered: %v", lotIDs(open))
	}

	// Close c first, then a later.
	closeLot(t, store, "c", t0.Add(3*time.Hour))
	closeLot(t, store, "a", t0.Add(4*time.Hour))

	closed, _ := store.QueryClosedLots(ctx, "nuclear", storage.QueryOptions{})
	if len(closed) != 2 || closed[0].LotID != "a" || closed[1].LotID != "c" {
		t.Errorf("closed lots not most-recent first: %v", lotIDs(closed))
	}

	open, _ = store.QueryOpenLots(ctx, "nuclear", "AAPL")
	if len(open) != 1 || open[0].LotID != "b" {
		t.Errorf("open lots after close = %v", lotIDs(open))
	}

	all, _ := store.QueryAllLots(ctx, "nuclear")
	if len(all) != 3 || all[0].LotID != "c" {
		t.Errorf("all lots = %v", lotIDs(all))
	}
}

func TestLedgerStore_OpenLotsMatchSymbolExactly(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	for _, l := range []*domain.StrategyLot{
		testLot("ab", "nuclear", "A#B", t0, 10),
		testLot("a", "nuclear", "A", t0.Add(time.Hour), 3),
	} {
		if err := store.PutLot(ctx, l); err != nil {
			t.Fatalf("PutLot %s: %v", l.LotID, err)
		}
	}

	open, err := store.QueryOpenLots(ctx, "nuclear", "A")
	if err != nil {
		t.Fatalf("QueryOpenLots: %v", err)
	}
	if len(open) != 1 || open[0].LotID != "a" {
		t.Errorf("open lots for A = %v, want [a]", lotIDs(open))
	}
}

func closeLot(t *testing.T, store *LedgerStore, id string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	lot, err := store.GetLot(ctx, id)
	if err != nil {
		t.Fatalf("GetLot %s: %v", id, err)
	}
	if _, err := lot.ApplyExit("exit-"+id, lot.RemainingQty, dec(120), at); err != nil {
		t.Fatalf("ApplyExit %s: %v", id, err)
	}
	if err := store.UpdateLot(ctx, lot); err != nil {
		t.Fatalf("UpdateLot %s: %v", id, err)
	}
}

func lotIDs(lots []*domain.StrategyLot) []string {
	ids := make([]string, len(lots))
	for i, l := range lots {
		ids[i] = l.LotID
	}
	return ids
}

func TestLedgerStore_ScanPagination(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	for i, strat := range []string{"a", "b", "c", "d", "e"} {
		lot := testLot(strat+"-lot", strat, "AAPL", t0.Add(time.Duration(i)*time.Minute), 5)
		if err := store.PutLot(ctx, lot); err != nil {
			t.Fatalf("PutLot: %v", err)
		}
		if strat != "c" {
			closeLot(t, store, lot.LotID, t0.Add(time.Hour))
		}
	}

	found := make(map[string]bool)
	page := storage.PageRequest{Limit: 2}
	pages := 0
	for {
		res, err := store.ScanStrategiesWithClosedLots(ctx, page)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		pages++
		for _, s := range res.Strategies {
			found[s] = true
		}
		if res.NextCursor == "" {
			break
		}
		page.Cursor = res.NextCursor
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if len(found) != 4 || found["c"] {
		t.Errorf("found = %v", found)
	}
}

func TestLedgerStore_Metadata(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	for _, name := range []string{"solar", "nuclear"} {
		if err := store.PutStrategyMetadata(ctx, &domain.StrategyMetadata{StrategyName: name, DisplayName: name + " strategy"}); err != nil {
			t.Fatalf("PutStrategyMetadata: %v", err)
		}
	}
	if err := store.PutLot(ctx, testLot("x", "nuclear", "AAPL", t0, 1)); err != nil {
		t.Fatalf("PutLot: %v", err)
	}

	list, _ := store.ListStrategyMetadata(ctx)
	if len(list) != 2 || list[0].StrategyName != "nuclear" {
		t.Fatalf("list = %+v", list)
	}

	if err := store.DeleteStrategyMetadata(ctx, "solar"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.DeleteStrategyMetadata(ctx, "solar"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	if _, err := store.GetStrategyMetadata(ctx, "solar"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}
