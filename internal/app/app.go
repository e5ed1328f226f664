// Package app constructs every ledger component once per process.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-ledger/internal/analytics"
	"strategy-ledger/internal/config"
	"strategy-ledger/internal/idempotency"
	"strategy-ledger/internal/ingestion"
	"strategy-ledger/internal/ledger"
	"strategy-ledger/internal/lifecycle"
	"strategy-ledger/internal/lots"
	"strategy-ledger/internal/observability"
	"strategy-ledger/internal/reporting"
	"strategy-ledger/internal/storage"
	chstore "strategy-ledger/internal/storage/clickhouse"
	"strategy-ledger/internal/storage/filestore"
	"strategy-ledger/internal/storage/memory"
	"strategy-ledger/internal/storage/migrations"
	pgstore "strategy-ledger/internal/storage/postgres"
	"strategy-ledger/internal/storage/sqlite"
)

// Cache names, also used as snapshot names.
const (
	SignalCacheName = "signals"
	PlanCacheName   = "rebalance_plans"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Repo      *ledger.Repository
	Lots      *lots.Manager
	Lifecycle *lifecycle.Manager
	Signals   *idempotency.Cache
	Plans     *idempotency.Cache
	Prices    *analytics.PriceBook
	Analytics *analytics.Service
	Ingestion *ingestion.Service
	Collector *reporting.Collector
	Feed      *ingestion.FeedClient // nil when no endpoint is configured

	closers []func()
}

// Build wires all components from cfg. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(cfg.Collector.Namespace),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	var pool *pgstore.Pool
	if cfg.Storage.Backend == config.BackendPostgres || cfg.Storage.SnapshotBackend == config.BackendPostgres {
		p, err := pgstore.NewPoolWithOptions(ctx, cfg.Storage.PostgresDSN, pgstore.PoolOptions{MaxConns: cfg.Storage.PostgresMaxConn})
		if err != nil {
			return err
		}
		pool = p
		a.closers = append(a.closers, p.Close)
	}

	var store storage.LedgerStore
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		store = pgstore.NewLedgerStore(pool)
	default:
		store = memory.NewLedgerStore()
	}

	snaps, err := a.snapshotStore(pool)
	if err != nil {
		return err
	}

	a.Repo = ledger.NewRepository(store, logger).
		WithRecorder(a.Metrics).
		WithPageSize(cfg.Storage.PageSize)
	a.Lots = lots.NewManager(store, logger)
	a.Lifecycle = lifecycle.NewManager(store, logger)

	a.Signals = idempotency.New(SignalCacheName, cfg.Idempotency.SignalTTL, cfg.Idempotency.Capacity, snaps, logger)
	a.Plans = idempotency.New(PlanCacheName, cfg.Idempotency.RebalanceTTL, cfg.Idempotency.Capacity, snaps, logger)
	a.Signals.Load(ctx)
	a.Plans.Load(ctx)

	a.Prices = analytics.NewPriceBook()
	a.Analytics = analytics.NewService(a.Repo, analytics.Config{
		SharpeLookback: cfg.Analytics.SharpeLookback,
		MinClosedLots:  cfg.Analytics.MinClosedLots,
		MinTradingDays: cfg.Analytics.MinTradingDays,
		RiskFreeRate:   cfg.Analytics.RiskFreeRate,
		Concurrency:    cfg.Analytics.Concurrency,
	}, logger).WithPriceSource(a.Prices)

	a.Ingestion = ingestion.NewService(ingestion.Deps{
		Repo:      a.Repo,
		Lots:      a.Lots,
		Lifecycle: a.Lifecycle,
		Signals:   a.Signals,
		Plans:     a.Plans,
		Prices:    a.Prices,
		Recorder:  a.Metrics,
	}, logger)

	publishers := []reporting.Publisher{reporting.NewPrometheusPublisher(a.Metrics)}
	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		publishers = append(publishers,
			reporting.NewSnapshotStorePublisher("clickhouse", chstore.NewPerformanceSnapshotStore(conn)))
	}
	a.Collector = reporting.NewCollector(reporting.Options{
		Analyzer:    a.Analytics,
		Publishers:  publishers,
		Recorder:    a.Metrics,
		Lookback:    cfg.Analytics.SharpeLookback,
		Concurrency: cfg.Analytics.Concurrency,
	}, logger)

	if cfg.Feed.Endpoint != "" {
		a.Feed = ingestion.NewFeedClient(cfg.Feed.Endpoint, &ingestion.FeedConfig{
			ReconnectDelay:    cfg.Feed.ReconnectDelay,
			MaxReconnectDelay: cfg.Feed.MaxReconnectDelay,
			PingInterval:      cfg.Feed.PingInterval,
			ReadTimeout:       cfg.Feed.ReadTimeout,
			WriteTimeout:      cfg.Feed.WriteTimeout,
		}, a.Ingestion, logger).OnStateChange(a.Metrics.SetFeedConnected)
	}

	logger.Info("components wired",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("snapshot_backend", cfg.Storage.SnapshotBackend),
		zap.Bool("clickhouse", cfg.Storage.ClickHouseDSN != ""),
		zap.Bool("feed", a.Feed != nil))
	return nil
}

func (a *App) snapshotStore(pool *pgstore.Pool) (storage.SnapshotStore, error) {
	cfg := a.Config.Storage
	switch cfg.SnapshotBackend {
	case config.BackendFile:
		return filestore.New(cfg.SnapshotDir)
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	case config.BackendPostgres:
		return pgstore.NewSnapshotStore(pool), nil
	default:
		return memory.NewSnapshotStore(), nil
	}
}

// Run serves HTTP and runs the feed, cache persistence and collector until
// ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.Logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	for _, c := range []*idempotency.Cache{a.Signals, a.Plans} {
		c := c
		g.Go(func() error {
			c.Run(gctx, cfg.Idempotency.PersistInterval)
			return nil
		})
	}

	if a.Feed != nil {
		g.Go(func() error {
			if err := a.Feed.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("feed: %w", err)
			}
			return nil
		})
	}

	if cfg.Collector.Enabled {
		g.Go(func() error {
			a.Collector.Loop(gctx, cfg.Collector.Interval)
			return nil
		})
	}

	err := g.Wait()
	a.Logger.Info("shutdown complete")
	return err
}

// Status is the /status response body.
type Status struct {
	Backend   string               `json:"backend"`
	LastRun   *reporting.Report    `json:"last_run,omitempty"`
	Feed      *ingestion.FeedStats `json:"feed,omitempty"`
	Caches    map[string]int       `json:"caches"`
	Prices    int                  `json:"prices"`
	Timestamp time.Time            `json:"timestamp"`
}

// Status returns the current process status.
func (a *App) Status() Status {
	st := Status{
		Backend: a.Config.Storage.Backend,
		LastRun: a.Collector.Last(),
		Caches: map[string]int{
			a.Signals.Name(): a.Signals.Len(),
			a.Plans.Name():   a.Plans.Len(),
		},
		Prices:    a.Prices.Len(),
		Timestamp: time.Now().UTC(),
	}
	if a.Feed != nil {
		stats := a.Feed.Stats()
		st.Feed = &stats
	}
	return st
}

// Handler serves /metrics, /health and /status.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(a.Status()); err != nil {
			a.Logger.Warn("encode status", zap.Error(err))
		}
	})
	return mux
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Migrate applies the embedded schemas to every configured backend.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrations.ApplyPostgres(ctx, pool, logger); err != nil {
			return err
		}
	}
	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.ApplyClickHouse(ctx, cfg.Storage.ClickHouseDSN, logger)
		if err != nil {
			return err
		}
		_ = conn.Close()
	}
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.ClickHouseDSN == "" {
		logger.Info("no database configured, nothing to migrate")
	}
	return nil
}
