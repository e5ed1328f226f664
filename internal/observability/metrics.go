// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "strategy_ledger"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	IngestedTotal *prometheus.CounterVec
	FeedConnected prometheus.Gauge

	// Store metrics
	StoreCallDuration *prometheus.HistogramVec
	StoreCallErrors   *prometheus.CounterVec

	// Strategy performance, labelled by strategy
	RealizedPnL        *prometheus.GaugeVec
	UnrealizedPnL      *prometheus.GaugeVec
	HoldingsValue      *prometheus.GaugeVec
	HoldingsCount      *prometheus.GaugeVec
	CompletedTrades    *prometheus.GaugeVec
	WinRate            *prometheus.GaugeVec
	AvgProfitPerTrade  *prometheus.GaugeVec
	CapitalDeployedPct *prometheus.GaugeVec
	SharpeRatio        *prometheus.GaugeVec
	ExecutionRate      *prometheus.GaugeVec

	// Collector metrics
	CollectorRuns          *prometheus.CounterVec
	CollectorPhaseDuration *prometheus.HistogramVec
	CollectorRunInfo       *prometheus.GaugeVec
	LastSuccessfulCollect  prometheus.Gauge
}

// NewMetrics creates a Metrics instance on its own registry.
// The registry also carries the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	strategyGauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      name,
			Help:      help,
		}, []string{"strategy"})
	}

	return &Metrics{
		registry: reg,

		IngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Inbound events by kind and outcome",
		}, []string{"kind", "outcome"}),
		FeedConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "feed_connected",
			Help:      "1 while the event feed websocket is connected",
		}),

		StoreCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Ledger store call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "call_errors_total",
			Help:      "Ledger store call failures by operation and class",
		}, []string{"operation", "class"}),

		RealizedPnL:        strategyGauge("realized_pnl", "Realized P&L from closed lot exits"),
		UnrealizedPnL:      strategyGauge("unrealized_pnl", "Mark-to-market P&L of open lots"),
		HoldingsValue:      strategyGauge("holdings_value", "Cost basis of open lots"),
		HoldingsCount:      strategyGauge("holdings_count", "Number of open lots"),
		CompletedTrades:    strategyGauge("completed_trades", "Number of lot exits"),
		WinRate:            strategyGauge("win_rate_percent", "Winning exits as a percentage of all exits"),
		AvgProfitPerTrade:  strategyGauge("avg_profit_per_trade", "Realized P&L divided by completed trades"),
		CapitalDeployedPct: strategyGauge("capital_deployed_percent", "Holdings value as a percentage of allocated capital"),
		SharpeRatio:        strategyGauge("sharpe_ratio", "Annualized Sharpe ratio over the lookback window"),
		ExecutionRate:      strategyGauge("signal_execution_rate_percent", "Executed signals as a percentage of resolved signals"),

		CollectorRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "runs_total",
			Help:      "Collector phase runs by status",
		}, []string{"phase", "status"}),
		CollectorPhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "phase_duration_seconds",
			Help:      "Collector phase duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"phase"}),
		CollectorRunInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "last_run_info",
			Help:      "Correlation id and overall status of the latest collector run",
		}, []string{"correlation_id", "status"}),
		LastSuccessfulCollect: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_collection_timestamp",
			Help:      "Unix timestamp of the last fully successful collector run",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordIngest counts one inbound event.
func (m *Metrics) RecordIngest(kind, outcome string) {
	m.IngestedTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStoreCall records ledger store call latency and failures.
func (m *Metrics) RecordStoreCall(op string, elapsed time.Duration, err error) {
	m.StoreCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err == nil || errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, storage.ErrNotFound) {
		return
	}
	m.StoreCallErrors.WithLabelValues(op, errorClass(err)).Inc()
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, storage.ErrConditionFailed):
		return "condition_failed"
	case errors.Is(err, storage.ErrInvalidInput):
		return "invalid_input"
	default:
		return "backend"
	}
}

// SetFeedConnected reports the feed connection state.
func (m *Metrics) SetFeedConnected(connected bool) {
	if connected {
		m.FeedConnected.Set(1)
		return
	}
	m.FeedConnected.Set(0)
}

// PublishSnapshot sets the per-strategy gauges from one snapshot and
// the summary it was built from. Absent values clear their series.
func (m *Metrics) PublishSnapshot(snap domain.PerformanceSnapshot, sum *domain.PerformanceSummary) {
	name := snap.StrategyName
	m.RealizedPnL.WithLabelValues(name).Set(snap.RealizedPnL)
	m.HoldingsValue.WithLabelValues(name).Set(snap.HoldingsValue)
	m.HoldingsCount.WithLabelValues(name).Set(float64(snap.HoldingsCount))
	m.CompletedTrades.WithLabelValues(name).Set(float64(snap.CompletedTrades))
	m.WinRate.WithLabelValues(name).Set(snap.WinRate)
	m.AvgProfitPerTrade.WithLabelValues(name).Set(snap.AvgProfitPerTrade)
	setOptional(m.CapitalDeployedPct, name, snap.CapitalDeployedPct)
	setOptional(m.SharpeRatio, name, snap.SharpeRatio)

	if sum == nil {
		return
	}
	setOptional(m.UnrealizedPnL, name, decimalPtr(sum.UnrealizedPnL))
	setOptional(m.ExecutionRate, name, decimalPtr(sum.Signals.ExecutionRate))
}

func setOptional(g *prometheus.GaugeVec, name string, v *float64) {
	if v == nil {
		g.DeleteLabelValues(name)
		return
	}
	g.WithLabelValues(name).Set(*v)
}

func decimalPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

// RecordCollectorPhase records one collector phase.
func (m *Metrics) RecordCollectorPhase(phase, status string, elapsed time.Duration) {
	m.CollectorRuns.WithLabelValues(phase, status).Inc()
	m.CollectorPhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// RecordCollectorRun replaces the last-run info series and, on success,
// stamps the health gauge.
func (m *Metrics) RecordCollectorRun(correlationID, status string, at time.Time, success bool) {
	m.CollectorRunInfo.Reset()
	m.CollectorRunInfo.WithLabelValues(correlationID, status).Set(1)
	if success {
		m.LastSuccessfulCollect.Set(float64(at.Unix()))
	}
}
