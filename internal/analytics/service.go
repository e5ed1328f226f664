// Package analytics derives strategy performance from the ledger.
// Everything here is read-only and recomputed on demand.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/fifo"
	"strategy-ledger/internal/ledger"
	"strategy-ledger/internal/storage"
)

// ErrEmptyStrategy is returned when no strategy name is given.
var ErrEmptyStrategy = errors.New("strategy name is required")

// Config tunes the analytics service.
type Config struct {
	SharpeLookback time.Duration
	MinClosedLots  int
	MinTradingDays int
	RiskFreeRate   float64 // annualized
	Concurrency    int     // bound on concurrent summaries
}

// DefaultConfig returns the default analytics configuration.
func DefaultConfig() Config {
	return Config{
		SharpeLookback: 90 * 24 * time.Hour,
		MinClosedLots:  5,
		MinTradingDays: 5,
		RiskFreeRate:   0,
		Concurrency:    4,
	}
}

// Service computes summaries and risk figures.
type Service struct {
	repo    *ledger.Repository
	prices  PriceSource
	matcher *fifo.Matcher
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a new Service.
func NewService(repo *ledger.Repository, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.SharpeLookback <= 0 {
		cfg.SharpeLookback = def.SharpeLookback
	}
	if cfg.MinClosedLots <= 0 {
		cfg.MinClosedLots = def.MinClosedLots
	}
	if cfg.MinTradingDays <= 0 {
		cfg.MinTradingDays = def.MinTradingDays
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Service{
		repo:    repo,
		matcher: fifo.NewMatcher(logger),
		cfg:     cfg,
		logger:  logger.Named("analytics"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithPriceSource enables unrealized P&L.
func (s *Service) WithPriceSource(p PriceSource) *Service {
	s.prices = p
	return s
}

// WithClock sets a custom clock function.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Summarize computes the performance summary of one strategy.
func (s *Service) Summarize(ctx context.Context, strategyName string) (*domain.PerformanceSummary, error) {
	if strategyName == "" {
		return nil, ErrEmptyStrategy
	}

	meta, _, err := s.repo.GetStrategyMetadata(ctx, strategyName)
	if err != nil {
		s.logger.Warn("strategy metadata unavailable",
			zap.String("strategy", strategyName), zap.Error(err))
	}

	sum := &domain.PerformanceSummary{
		StrategyName: strategyName,
		DisplayName:  strategyName,
	}
	if meta != nil {
		sum.DisplayName = meta.DisplayOrName()
	}

	links := s.repo.QueryStrategyTrades(ctx, strategyName, storage.QueryOptions{})
	applyLinks(sum, links)
	sum.FIFORealizedPnL = s.matcher.Match(fifo.FromLinks(links)).RealizedPnL

	lots := s.repo.QueryAllLots(ctx, strategyName)
	applyLots(sum, lots)
	sum.UnrealizedPnL = unrealizedPnL(lots, s.prices)
	sum.CapitalDeployedPct = capitalDeployedPct(sum.CurrentHoldingsValue, meta)

	sum.Signals = s.SignalStats(ctx, strategyName)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sum, nil
}

// SignalStats counts a strategy's signals per lifecycle state.
func (s *Service) SignalStats(ctx context.Context, strategyName string) domain.SignalStats {
	return computeSignalStats(s.repo.QuerySignalsByStrategy(ctx, strategyName, storage.QueryOptions{}))
}

// StrategyNames returns the union of strategies with metadata and strategies
// found by the lot scans, sorted.
func (s *Service) StrategyNames(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, m := range s.repo.ListStrategyMetadata(ctx) {
		seen[m.StrategyName] = struct{}{}
	}

	completed, err := s.repo.DiscoverStrategiesWithCompletedTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover strategies with completed trades: %w", err)
	}
	closed, err := s.repo.DiscoverStrategiesWithClosedLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover strategies with closed lots: %w", err)
	}
	for _, name := range append(completed, closed...) {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SummarizeAll summarizes every known strategy concurrently, sorted by name.
func (s *Service) SummarizeAll(ctx context.Context) ([]*domain.PerformanceSummary, error) {
	names, err := s.StrategyNames(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.PerformanceSummary, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			sum, err := s.Summarize(gctx, name)
			if err != nil {
				return fmt.Errorf("summarize %s: %w", name, err)
			}
			out[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
