// Package reporting collects strategy performance and pushes it to the
// metrics boundary.
//
// A collection run executes sequential phases: discover, summarize, sharpe
// and one publish phase per publisher. Every run gets a fresh correlation id
// that tags all rows it publishes.
package reporting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-ledger/internal/domain"
)

// Phase names.
const (
	PhaseDiscover  = "discover"
	PhaseSummarize = "summarize"
	PhaseSharpe    = "sharpe"
)

// Analyzer computes strategy performance. Implemented by analytics.Service.
type Analyzer interface {
	StrategyNames(ctx context.Context) ([]string, error)
	Summarize(ctx context.Context, strategyName string) (*domain.PerformanceSummary, error)
	SharpeRatio(ctx context.Context, strategyName string, lookback time.Duration) (*domain.SharpeResult, bool, error)
}

// Recorder observes collector runs. Implemented by observability.Metrics.
type Recorder interface {
	RecordCollectorPhase(phase, status string, elapsed time.Duration)
	RecordCollectorRun(correlationID, status string, at time.Time, success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordCollectorPhase(string, string, time.Duration) {}
func (nopRecorder) RecordCollectorRun(string, string, time.Time, bool) {}

// Options configures a Collector.
type Options struct {
	Analyzer    Analyzer
	Publishers  []Publisher
	Recorder    Recorder
	Lookback    time.Duration // Sharpe lookback; <= 0 uses the analyzer default
	Concurrency int           // per-strategy work in flight; <= 0 means 4
}

// Collector runs collection jobs. Safe for concurrent use.
type Collector struct {
	analyzer    Analyzer
	publishers  []Publisher
	recorder    Recorder
	lookback    time.Duration
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string

	mu   sync.RWMutex
	last *Report
}

// NewCollector creates a new Collector.
func NewCollector(opts Options, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	conc := opts.Concurrency
	if conc <= 0 {
		conc = 4
	}
	return &Collector{
		analyzer:    opts.Analyzer,
		publishers:  opts.Publishers,
		recorder:    rec,
		lookback:    opts.Lookback,
		concurrency: conc,
		logger:      logger.Named("collector"),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// WithClock sets a custom clock function for deterministic output.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// WithIDGenerator replaces the correlation id source.
func (c *Collector) WithIDGenerator(newID func() string) *Collector {
	c.newID = newID
	return c
}

// Last returns the most recent report, or nil before the first run.
func (c *Collector) Last() *Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// run carries the state of one collection.
type run struct {
	c      *Collector
	report *Report
	logger *zap.Logger
}

func (r *run) phase(name string, fn func() error) bool {
	start := time.Now()
	err := fn()
	res := PhaseResult{Name: name, Status: PhaseSuccess, Duration: time.Since(start)}
	if err != nil {
		res.Status = PhaseFailed
		res.Error = err.Error()
		r.logger.Warn("phase failed", zap.String("phase", name), zap.Error(err))
	} else {
		r.logger.Debug("phase completed", zap.String("phase", name), zap.Duration("elapsed", res.Duration))
	}
	r.report.Phases = append(r.report.Phases, res)
	r.c.recorder.RecordCollectorPhase(name, string(res.Status), res.Duration)
	return err == nil
}

func (r *run) skip(names ...string) {
	for _, name := range names {
		r.report.Phases = append(r.report.Phases, PhaseResult{Name: name, Status: PhaseSkipped})
		r.c.recorder.RecordCollectorPhase(name, string(PhaseSkipped), 0)
	}
}

// Run executes one collection and returns its report. Failures are
// reported in the phase status map, never as an error.
func (c *Collector) Run(ctx context.Context) *Report {
	r := &run{
		c: c,
		report: &Report{
			CorrelationID: c.newID(),
			StartedAt:     c.now(),
		},
	}
	r.logger = c.logger.With(zap.String("correlation_id", r.report.CorrelationID))
	r.logger.Info("collection started")

	c.execute(ctx, r)

	rep := r.report
	rep.FinishedAt = c.now()
	if rep.Status == "" {
		rep.Status = overallStatus(rep.Phases)
	}
	c.recorder.RecordCollectorRun(rep.CorrelationID, string(rep.Status), rep.FinishedAt, rep.Status == RunSuccess)

	c.mu.Lock()
	c.last = rep
	c.mu.Unlock()

	r.logger.Info("collection finished",
		zap.String("status", string(rep.Status)),
		zap.Int("strategies", len(rep.Strategies)),
		zap.Int("errors", len(rep.Errors)))
	return rep
}

func (c *Collector) execute(ctx context.Context, r *run) {
	later := []string{PhaseSummarize, PhaseSharpe}
	for _, p := range c.publishers {
		later = append(later, publishPhase(p))
	}

	var names []string
	if !r.phase(PhaseDiscover, func() error {
		var err error
		names, err = c.analyzer.StrategyNames(ctx)
		return err
	}) {
		r.skip(later...)
		return
	}
	if len(names) == 0 {
		r.logger.Info("no strategies to collect")
		r.skip(later...)
		return
	}

	var rows []StrategyRow
	r.phase(PhaseSummarize, func() error {
		var err error
		rows, err = c.summarize(ctx, r, names)
		return err
	})
	if len(rows) == 0 {
		r.skip(later[1:]...)
		r.report.Status = RunFailed
		return
	}

	r.phase(PhaseSharpe, func() error {
		return c.sharpe(ctx, r, rows)
	})
	r.report.Strategies = rows

	batch := &Batch{
		CorrelationID: r.report.CorrelationID,
		CollectedAt:   r.report.StartedAt,
		Snapshots:     r.report.Snapshots(),
		Summaries:     make(map[string]*domain.PerformanceSummary, len(rows)),
	}
	for _, row := range rows {
		batch.Summaries[row.Summary.StrategyName] = row.Summary
	}
	for _, p := range c.publishers {
		r.phase(publishPhase(p), func() error {
			return p.Publish(ctx, batch)
		})
	}
}

// summarize computes every strategy's summary concurrently. Strategies that
// fail are dropped from the result and recorded in the report errors.
func (c *Collector) summarize(ctx context.Context, r *run, names []string) ([]StrategyRow, error) {
	sums := make([]*domain.PerformanceSummary, len(names))
	errs := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			sums[i], errs[i] = c.analyzer.Summarize(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	rows := make([]StrategyRow, 0, len(names))
	var failed int
	for i, name := range names {
		if errs[i] != nil {
			failed++
			r.report.Errors = append(r.report.Errors, fmt.Sprintf("summarize %s: %v", name, errs[i]))
			continue
		}
		rows = append(rows, StrategyRow{Summary: sums[i]})
	}
	if failed > 0 {
		return rows, fmt.Errorf("%d of %d strategies failed to summarize", failed, len(names))
	}
	return rows, nil
}

// sharpe fills in Sharpe ratios. An absent ratio is not a failure.
func (c *Collector) sharpe(ctx context.Context, r *run, rows []StrategyRow) error {
	errs := make([]error, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range rows {
		i := i
		g.Go(func() error {
			res, ok, err := c.analyzer.SharpeRatio(gctx, rows[i].Summary.StrategyName, c.lookback)
			if err != nil {
				errs[i] = err
				return nil
			}
			if ok {
				rows[i].Sharpe = res
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			r.report.Errors = append(r.report.Errors,
				fmt.Sprintf("sharpe %s: %v", rows[i].Summary.StrategyName, err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sharpe ratios failed", failed, len(rows))
	}
	return nil
}

// Loop runs a collection immediately and then every interval until ctx is done.
func (c *Collector) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
