package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func createTestTrade(orderID, corr, symbol string, at time.Time, strategies ...string) *domain.TradeRecord {
	return &domain.TradeRecord{
		OrderID:       orderID,
		CorrelationID: corr,
		Symbol:        symbol,
		Direction:     domain.DirectionBuy,
		FilledQty:     decimal.NewFromInt(10),
		FillPrice:     decimal.NewFromInt(100),
		FillTimestamp: at,
		OrderType:     domain.OrderTypeMarket,
		BidAtFill:     ptr(decimal.RequireFromString("99.95")),
		StrategyNames: strategies,
	}
}

func putTrade(t *testing.T, ctx context.Context, store *LedgerStore, tr *domain.TradeRecord) {
	t.Helper()
	links, err := domain.BuildLinks(tr)
	require.NoError(t, err)
	require.NoError(t, store.PutTrade(ctx, tr, links))
}

func createTestSignal(id, strategy string, at time.Time) *domain.SignalRecord {
	return &domain.SignalRecord{
		SignalID:         id,
		CorrelationID:    "corr-sig",
		StrategyName:     strategy,
		Symbol:           "AAPL",
		Action:           domain.SignalActionBuy,
		TargetAllocation: decimal.RequireFromString("0.25"),
		LifecycleState:   domain.LifecycleGenerated,
		CreatedAt:        at,
	}
}

func createTestLot(id, strategy, symbol string, at time.Time) *domain.StrategyLot {
	return &domain.StrategyLot{
		LotID:          id,
		StrategyName:   strategy,
		Symbol:         symbol,
		EntryTradeID:   "entry-" + id,
		EntryQty:       decimal.NewFromInt(10),
		EntryPrice:     decimal.NewFromInt(100),
		EntryTimestamp: at,
		RemainingQty:   decimal.NewFromInt(10),
	}
}

func TestLedgerStore_Trades(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	putTrade(t, ctx, store, createTestTrade("ord-1", "corr-1", "AAPL", t0, "nuclear"))
	putTrade(t, ctx, store, createTestTrade("ord-2", "corr-1", "AAPL", t0.Add(time.Minute), "nuclear", "momentum"))
	putTrade(t, ctx, store, createTestTrade("ord-3", "corr-2", "MSFT", t0.Add(2*time.Minute), "momentum"))

	t.Run("get", func(t *testing.T) {
		got, err := store.GetTrade(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", got.Symbol)
		assert.True(t, got.FillTimestamp.Equal(t0))
		assert.True(t, got.FilledQty.Equal(decimal.NewFromInt(10)))
		require.NotNil(t, got.BidAtFill)
		assert.Equal(t, "99.95", got.BidAtFill.String())
		assert.Nil(t, got.AskAtFill)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetTrade(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("duplicate writes nothing", func(t *testing.T) {
		tr := createTestTrade("ord-1", "corr-9", "TSLA", t0, "other")
		links, err := domain.BuildLinks(tr)
		require.NoError(t, err)

		err = store.PutTrade(ctx, tr, links)
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		got, err := store.QueryStrategyTrades(ctx, "other", storage.QueryOptions{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("by correlation most recent first", func(t *testing.T) {
		got, err := store.QueryTradesByCorrelation(ctx, "corr-1", storage.QueryOptions{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ord-2", got[0].OrderID)
		assert.Equal(t, "ord-1", got[1].OrderID)
	})

	t.Run("by symbol with limit", func(t *testing.T) {
		got, err := store.QueryTradesBySymbol(ctx, "AAPL", storage.QueryOptions{Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "ord-2", got[0].OrderID)
	})

	t.Run("strategy links", func(t *testing.T) {
		got, err := store.QueryStrategyTrades(ctx, "momentum", storage.QueryOptions{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ord-3", got[0].OrderID)
		assert.Equal(t, "ord-2", got[1].OrderID)
		assert.Equal(t, "0.5", got[1].Weight.String())
		assert.Equal(t, "500", got[1].WeightedNotional.String())
	})

	t.Run("legacy links are skipped", func(t *testing.T) {
		tr := createTestTrade("ord-4", "corr-3", "NVDA", t0.Add(3*time.Minute), "legacy")
		links, err := domain.BuildLinks(tr)
		require.NoError(t, err)
		links[0].Quantity = nil
		require.NoError(t, store.PutTrade(ctx, tr, links))

		got, err := store.QueryStrategyTrades(ctx, "legacy", storage.QueryOptions{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestLedgerStore_SignalLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	require.NoError(t, store.PutSignal(ctx, createTestSignal("sig-1", "nuclear", t0)))
	require.NoError(t, store.PutSignal(ctx, createTestSignal("sig-2", "nuclear", t0.Add(time.Minute))))
	assert.ErrorIs(t, store.PutSignal(ctx, createTestSignal("sig-1", "nuclear", t0)), storage.ErrDuplicateKey)

	t.Run("transition with append", func(t *testing.T) {
		got, err := store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
			SignalID:       "sig-1",
			ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated},
			NewState:       domain.LifecycleExecuted,
			CreatedAt:      t0,
			AppendTradeIDs: []string{"ord-1", "ord-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.LifecycleExecuted, got.LifecycleState)
		assert.Equal(t, []string{"ord-1"}, got.ExecutedTradeIDs)

		executed, err := store.QuerySignalsByLifecycleState(ctx, domain.LifecycleExecuted, storage.QueryOptions{})
		require.NoError(t, err)
		require.Len(t, executed, 1)
		assert.Equal(t, "sig-1", executed[0].SignalID)

		generated, err := store.QuerySignalsByLifecycleState(ctx, domain.LifecycleGenerated, storage.QueryOptions{})
		require.NoError(t, err)
		require.Len(t, generated, 1)
		assert.Equal(t, "sig-2", generated[0].SignalID)
	})

	t.Run("append skips existing ids", func(t *testing.T) {
		got, err := store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
			SignalID:       "sig-1",
			ExpectedStates: []domain.LifecycleState{domain.LifecycleExecuted},
			NewState:       domain.LifecycleExecuted,
			CreatedAt:      t0,
			AppendTradeIDs: []string{"ord-1", "ord-2"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-1", "ord-2"}, got.ExecutedTradeIDs)
	})

	t.Run("condition failed", func(t *testing.T) {
		_, err := store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
			SignalID:       "sig-1",
			ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated},
			NewState:       domain.LifecycleIgnored,
			CreatedAt:      t0,
		})
		assert.ErrorIs(t, err, storage.ErrConditionFailed)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
			SignalID:       "missing",
			ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated},
			NewState:       domain.LifecycleIgnored,
			CreatedAt:      t0,
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("concurrent appends are not lost", func(t *testing.T) {
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
					SignalID:       "sig-2",
					ExpectedStates: []domain.LifecycleState{domain.LifecycleGenerated, domain.LifecycleExecuted},
					NewState:       domain.LifecycleExecuted,
					CreatedAt:      t0.Add(time.Minute),
					AppendTradeIDs: []string{fmt.Sprintf("ord-%02d", i)},
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.GetSignal(ctx, "sig-2")
		require.NoError(t, err)
		assert.Len(t, got.ExecutedTradeIDs, n)
	})

	t.Run("by strategy and correlation", func(t *testing.T) {
		byStrategy, err := store.QuerySignalsByStrategy(ctx, "nuclear", storage.QueryOptions{})
		require.NoError(t, err)
		require.Len(t, byStrategy, 2)
		assert.Equal(t, "sig-2", byStrategy[0].SignalID)

		byCorr, err := store.QuerySignalsByCorrelation(ctx, "corr-sig", storage.QueryOptions{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, byCorr, 1)
	})
}

func TestLedgerStore_Lots(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	older := createTestLot("lot-a", "nuclear", "AAPL", t0)
	newer := createTestLot("lot-b", "nuclear", "AAPL", t0.Add(time.Hour))
	other := createTestLot("lot-c", "nuclear", "MSFT", t0.Add(30*time.Minute))
	for _, l := range []*domain.StrategyLot{newer, older, other} {
		require.NoError(t, store.PutLot(ctx, l))
	}
	assert.ErrorIs(t, store.PutLot(ctx, older), storage.ErrDuplicateKey)

	t.Run("open lots oldest first", func(t *testing.T) {
		got, err := store.QueryOpenLots(ctx, "nuclear", "AAPL")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "lot-a", got[0].LotID)
		assert.Equal(t, "lot-b", got[1].LotID)
	})

	t.Run("versioned update", func(t *testing.T) {
		lot, err := store.GetLot(ctx, "lot-a")
		require.NoError(t, err)
		stale := lot.Clone()

		_, err = lot.ApplyExit("sell-1", decimal.NewFromInt(10), decimal.NewFromInt(110), t0.Add(2*time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.UpdateLot(ctx, lot))
		assert.Equal(t, int64(1), lot.Version)

		_, err = stale.ApplyExit("sell-2", decimal.NewFromInt(1), decimal.NewFromInt(90), t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.ErrorIs(t, store.UpdateLot(ctx, stale), storage.ErrConditionFailed)

		missing := createTestLot("lot-z", "nuclear", "AAPL", t0)
		assert.ErrorIs(t, store.UpdateLot(ctx, missing), storage.ErrNotFound)

		stored, err := store.GetLot(ctx, "lot-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
		assert.True(t, stored.RealizedPnL().Equal(decimal.NewFromInt(100)))
	})

	t.Run("closed lot leaves the open queue", func(t *testing.T) {
		got, err := store.QueryOpenLots(ctx, "nuclear", "AAPL")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "lot-b", got[0].LotID)

		closed, err := store.QueryClosedLots(ctx, "nuclear", storage.QueryOptions{})
		require.NoError(t, err)
		require.Len(t, closed, 1)
		assert.Equal(t, "lot-a", closed[0].LotID)
	})

	t.Run("all lots oldest entry first", func(t *testing.T) {
		got, err := store.QueryAllLots(ctx, "nuclear")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"lot-a", "lot-c", "lot-b"}, []string{got[0].LotID, got[1].LotID, got[2].LotID})
	})
}

func TestLedgerStore_ScanStrategies(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	for i, name := range []string{"alpha", "beta", "gamma", "delta"} {
		lot := createTestLot(fmt.Sprintf("lot-%d", i), name, "AAPL", t0)
		_, err := lot.ApplyExit("sell", decimal.NewFromInt(4), decimal.NewFromInt(105), t0.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.PutLot(ctx, lot))
	}
	require.NoError(t, store.PutLot(ctx, createTestLot("lot-9", "idle", "AAPL", t0)))

	seen := map[string]bool{}
	page := storage.PageRequest{Limit: 2}
	pages := 0
	for {
		res, err := store.ScanStrategiesWithCompletedTrades(ctx, page)
		require.NoError(t, err)
		pages++
		for _, s := range res.Strategies {
			seen[s] = true
		}
		if res.NextCursor == "" {
			break
		}
		page.Cursor = res.NextCursor
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, map[string]bool{"alpha": true, "beta": true, "gamma": true, "delta": true}, seen)

	closed, err := store.ScanStrategiesWithClosedLots(ctx, storage.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, closed.Strategies)
	assert.Empty(t, closed.NextCursor)
}

func TestLedgerStore_Metadata(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	created := t0
	require.NoError(t, store.PutStrategyMetadata(ctx, &domain.StrategyMetadata{
		StrategyName:     "nuclear",
		DisplayName:      "Nuclear",
		AssetUniverse:    []string{"AAPL", "MSFT"},
		AllocatedCapital: ptr(decimal.NewFromInt(10000)),
		CreatedAt:        created,
		UpdatedAt:        created,
	}))
	require.NoError(t, store.PutStrategyMetadata(ctx, &domain.StrategyMetadata{
		StrategyName: "momentum",
		CreatedAt:    created,
		UpdatedAt:    created,
	}))

	// Replace keeps the original created_at.
	require.NoError(t, store.PutStrategyMetadata(ctx, &domain.StrategyMetadata{
		StrategyName: "nuclear",
		DisplayName:  "Nuclear v2",
		CreatedAt:    created.Add(24 * time.Hour),
		UpdatedAt:    created.Add(24 * time.Hour),
	}))

	got, err := store.GetStrategyMetadata(ctx, "nuclear")
	require.NoError(t, err)
	assert.Equal(t, "Nuclear v2", got.DisplayName)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(created.Add(24*time.Hour)))
	assert.Nil(t, got.AllocatedCapital)

	list, err := store.ListStrategyMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "momentum", list[0].StrategyName)
	assert.Equal(t, "nuclear", list[1].StrategyName)

	require.NoError(t, store.DeleteStrategyMetadata(ctx, "momentum"))
	assert.ErrorIs(t, store.DeleteStrategyMetadata(ctx, "momentum"), storage.ErrNotFound)

	_, err = store.GetStrategyMetadata(ctx, "momentum")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshotStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(pool)

	_, err := store.LoadSnapshot(ctx, "signals")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SaveSnapshot(ctx, "signals", []byte(`{"a":1}`)))
	require.NoError(t, store.SaveSnapshot(ctx, "signals", []byte(`{"b":2}`)))

	got, err := store.LoadSnapshot(ctx, "signals")
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(got))

	assert.ErrorIs(t, store.SaveSnapshot(ctx, "", nil), storage.ErrInvalidInput)
}
