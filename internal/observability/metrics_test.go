package observability

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

func TestMetrics_RecordIngest(t *testing.T) {
	m := NewMetrics("test")
	m.RecordIngest("trade", "stored")
	m.RecordIngest("trade", "stored")
	m.RecordIngest("trade", "duplicate")

	if got := testutil.ToFloat64(m.IngestedTotal.WithLabelValues("trade", "stored")); got != 2 {
		t.Errorf("stored = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IngestedTotal.WithLabelValues("trade", "duplicate")); got != 1 {
		t.Errorf("duplicate = %v, want 1", got)
	}
}

func TestMetrics_RecordStoreCall(t *testing.T) {
	m := NewMetrics("test")
	m.RecordStoreCall("put_trade", time.Millisecond, nil)
	m.RecordStoreCall("put_trade", time.Millisecond, fmt.Errorf("wrap: %w", storage.ErrDuplicateKey))
	m.RecordStoreCall("update_lot", time.Millisecond, storage.ErrConditionFailed)
	m.RecordStoreCall("update_lot", time.Millisecond, fmt.Errorf("dial tcp: refused"))

	if got := testutil.CollectAndCount(m.StoreCallErrors); got != 2 {
		t.Errorf("error series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.StoreCallErrors.WithLabelValues("update_lot", "condition_failed")); got != 1 {
		t.Errorf("condition_failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreCallErrors.WithLabelValues("update_lot", "backend")); got != 1 {
		t.Errorf("backend = %v, want 1", got)
	}
}

func TestMetrics_PublishSnapshot(t *testing.T) {
	m := NewMetrics("test")
	capital := decimal.NewFromInt(11)
	rate := decimal.NewFromInt(50)
	sum := &domain.PerformanceSummary{
		StrategyName:         "nuclear",
		TotalRealizedPnL:     decimal.NewFromInt(150),
		CurrentHoldings:      1,
		CurrentHoldingsValue: decimal.NewFromInt(720),
		CompletedTrades:      2,
		WinRate:              decimal.NewFromInt(50),
		AvgProfitPerTrade:    decimal.NewFromInt(75),
		CapitalDeployedPct:   &capital,
		Signals:              domain.SignalStats{ExecutionRate: &rate},
	}
	snap := domain.SnapshotFromSummary(sum, "run-1", time.Now())
	m.PublishSnapshot(snap, sum)

	checks := map[string]float64{
		"realized":  testutil.ToFloat64(m.RealizedPnL.WithLabelValues("nuclear")),
		"holdings":  testutil.ToFloat64(m.HoldingsValue.WithLabelValues("nuclear")),
		"completed": testutil.ToFloat64(m.CompletedTrades.WithLabelValues("nuclear")),
		"capital":   testutil.ToFloat64(m.CapitalDeployedPct.WithLabelValues("nuclear")),
		"execution": testutil.ToFloat64(m.ExecutionRate.WithLabelValues("nuclear")),
	}
	want := map[string]float64{"realized": 150, "holdings": 720, "completed": 2, "capital": 11, "execution": 50}
	for k, v := range want {
		if checks[k] != v {
			t.Errorf("%s = %v, want %v", k, checks[k], v)
		}
	}

	// Without Sharpe or capital the series disappear.
	sum.CapitalDeployedPct = nil
	m.PublishSnapshot(domain.SnapshotFromSummary(sum, "run-2", time.Now()), sum)
	if got := testutil.CollectAndCount(m.CapitalDeployedPct); got != 0 {
		t.Errorf("capital series = %d, want 0", got)
	}
	if got := testutil.CollectAndCount(m.SharpeRatio); got != 0 {
		t.Errorf("sharpe series = %d, want 0", got)
	}
}

func TestMetrics_CollectorRunKeepsOneInfoSeries(t *testing.T) {
	m := NewMetrics("test")
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.RecordCollectorRun("run-1", "SUCCESS", at, true)
	m.RecordCollectorRun("run-2", "PARTIAL", at.Add(time.Minute), false)

	if got := testutil.CollectAndCount(m.CollectorRunInfo); got != 1 {
		t.Errorf("info series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastSuccessfulCollect); got != float64(at.Unix()) {
		t.Errorf("last success = %v, want %v", got, at.Unix())
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordIngest("signal", "stored")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `test_ingestion_events_total{kind="signal",outcome="stored"} 1`) {
		t.Errorf("metrics output missing ingestion counter:\n%s", body)
	}
}
