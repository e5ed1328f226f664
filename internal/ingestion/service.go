// Package ingestion is the inbound boundary of the ledger.
//
// Fills, signals, signal outcomes and rebalance plans arrive here, are
// converted from wire DTOs into records, deduplicated and written.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"strategy-ledger/internal/analytics"
	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/idempotency"
	"strategy-ledger/internal/idhash"
	"strategy-ledger/internal/ledger"
	"strategy-ledger/internal/lifecycle"
	"strategy-ledger/internal/lots"
)

// Outcome labels reported to the Recorder.
const (
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Recorder counts ingested events. Implemented by observability.Metrics.
type Recorder interface {
	RecordIngest(kind, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordIngest(string, string) {}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo      *ledger.Repository
	Lots      *lots.Manager
	Lifecycle *lifecycle.Manager
	Signals   *idempotency.Cache // signal content hashes
	Plans     *idempotency.Cache // rebalance plan hashes
	Prices    *analytics.PriceBook
	Recorder  Recorder
}

// Service accepts inbound events. Safe for concurrent use.
type Service struct {
	repo      *ledger.Repository
	lots      *lots.Manager
	lifecycle *lifecycle.Manager
	signals   *idempotency.Cache
	plans     *idempotency.Cache
	prices    *analytics.PriceBook
	recorder  Recorder
	logger    *zap.Logger
}

// NewService creates a new Service.
func NewService(deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Service{
		repo:      deps.Repo,
		lots:      deps.Lots,
		lifecycle: deps.Lifecycle,
		signals:   deps.Signals,
		plans:     deps.Plans,
		prices:    deps.Prices,
		recorder:  rec,
		logger:    logger.Named("ingestion"),
	}
}

// TradeResult reports SubmitTrade.
type TradeResult struct {
	Trade     *domain.TradeRecord
	Duplicate bool
	Lots      *lots.Result
	Signal    *lifecycle.Result // set when the trade names its signal
}

// SubmitTrade stores a fill, applies it to strategy lots and marks its
// signal EXECUTED. Resubmitting an order is safe: the trade write is a
// no-op, lots are reapplied from the stored trade and quantity already
// applied is skipped.
func (s *Service) SubmitTrade(ctx context.Context, t *domain.TradeRecord) (*TradeResult, error) {
	res, err := s.repo.PutTrade(ctx, t)
	if err != nil {
		s.recorder.RecordIngest("trade", outcomeOf(err))
		return nil, err
	}
	logger := s.logger.With(
		zap.String("order_id", res.Trade.OrderID),
		zap.String("correlation_id", res.Trade.CorrelationID))

	out := &TradeResult{Trade: res.Trade, Duplicate: res.Duplicate}
	if res.Duplicate {
		logger.Info("duplicate trade, reapplying lots")
		s.recorder.RecordIngest("trade", OutcomeDuplicate)
	} else {
		s.recorder.RecordIngest("trade", OutcomeStored)
	}

	out.Lots, err = s.lots.ApplyTrade(ctx, res.Links)
	if err != nil {
		return out, fmt.Errorf("apply lots for %s: %w", res.Trade.OrderID, err)
	}

	if id := res.Trade.SignalID; id != "" {
		out.Signal, err = s.lifecycle.Transition(ctx, id, domain.LifecycleExecuted, []string{res.Trade.OrderID})
		if err != nil {
			return out, fmt.Errorf("mark signal %s executed: %w", id, err)
		}
	}

	logger.Debug("trade ingested",
		zap.Int("lots_opened", len(out.Lots.Opened)),
		zap.Int("lots_updated", len(out.Lots.Updated)))
	return out, nil
}

// SignalResult reports SubmitSignal.
type SignalResult struct {
	Signal     *domain.SignalRecord
	Duplicate  bool
	Superseded int
}

// SubmitSignal stores a new signal unless the same content was accepted
// within the signal TTL, then supersedes older pending signals for the
// same strategy and symbol.
func (s *Service) SubmitSignal(ctx context.Context, sig *domain.SignalRecord) (*SignalResult, error) {
	if sig == nil {
		return nil, fmt.Errorf("%w: nil signal", domain.ErrInvalidSignal)
	}
	rec := sig.Clone()
	if err := rec.Normalize(); err != nil {
		s.recorder.RecordIngest("signal", OutcomeRejected)
		return nil, err
	}
	logger := s.logger.With(
		zap.String("signal_id", rec.SignalID),
		zap.String("correlation_id", rec.CorrelationID))

	hash := idhash.ComputeSignalHash(rec.StrategyName, rec.Symbol, string(rec.Action),
		rec.TargetAllocation.String(), rec.CorrelationID)
	md := map[string]string{"signal_id": rec.SignalID, "correlation_id": rec.CorrelationID}
	if !s.signals.Claim(hash, idempotency.ScopeSignal, md) {
		orig, _ := s.signals.GetMetadata(hash, idempotency.ScopeSignal)
		logger.Info("duplicate signal content", zap.String("original_signal_id", orig["signal_id"]))
		s.recorder.RecordIngest("signal", OutcomeDuplicate)
		return &SignalResult{Signal: rec, Duplicate: true}, nil
	}

	dup, err := s.repo.PutSignal(ctx, rec)
	if err != nil {
		s.signals.Forget(hash, idempotency.ScopeSignal)
		s.recorder.RecordIngest("signal", outcomeOf(err))
		return nil, err
	}
	if dup {
		s.recorder.RecordIngest("signal", OutcomeDuplicate)
		return &SignalResult{Signal: rec, Duplicate: true}, nil
	}
	s.recorder.RecordIngest("signal", OutcomeStored)

	n, err := s.lifecycle.SupersedeOlder(ctx, rec)
	if err != nil {
		return &SignalResult{Signal: rec}, fmt.Errorf("supersede older signals: %w", err)
	}
	if n > 0 {
		logger.Info("superseded older signals", zap.Int("count", n))
	}
	return &SignalResult{Signal: rec, Superseded: n}, nil
}

// NotifySignalOutcome applies a lifecycle outcome reported by the execution side.
func (s *Service) NotifySignalOutcome(ctx context.Context, signalID string, state domain.LifecycleState, tradeIDs []string) (*lifecycle.Result, error) {
	res, err := s.lifecycle.Transition(ctx, signalID, state, tradeIDs)
	if err != nil {
		s.recorder.RecordIngest("signal_outcome", outcomeOf(err))
		return nil, err
	}
	s.recorder.RecordIngest("signal_outcome", string(res.Outcome))
	return res, nil
}

// CompleteWorkflow resolves a workflow's pending signals as IGNORED.
func (s *Service) CompleteWorkflow(ctx context.Context, correlationID string) (int, error) {
	return s.lifecycle.CompleteWorkflow(ctx, correlationID)
}

// ClaimRebalancePlan reports whether plan is new within the rebalance TTL
// and remembers it. Only the first claimant of identical content gets true.
func (s *Service) ClaimRebalancePlan(_ context.Context, plan *domain.RebalancePlan) (bool, error) {
	if plan == nil || plan.StrategyName == "" || len(plan.Items) == 0 {
		return false, fmt.Errorf("%w: rebalance plan needs a strategy and items", domain.ErrInvalidSignal)
	}

	items := make([]string, 0, len(plan.Items))
	for _, it := range plan.Items {
		sym, err := domain.NormalizeSymbol(it.Symbol)
		if err != nil {
			return false, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
		}
		items = append(items, fmt.Sprintf("%s:%s:%s", sym, it.Action, it.TargetAllocation.String()))
	}
	hash := idhash.ComputeRebalancePlanHash(plan.StrategyName, items)

	claimed := s.plans.Claim(hash, idempotency.ScopeRebalance, map[string]string{
		"correlation_id": plan.CorrelationID,
		"strategy":       plan.StrategyName,
	})
	if !claimed {
		s.logger.Info("rebalance plan already claimed",
			zap.String("strategy", plan.StrategyName),
			zap.String("correlation_id", plan.CorrelationID))
		s.recorder.RecordIngest("rebalance_plan", OutcomeDuplicate)
		return false, nil
	}
	s.recorder.RecordIngest("rebalance_plan", OutcomeStored)
	return true, nil
}

// UpdatePrice feeds the price book.
func (s *Service) UpdatePrice(q analytics.Quote) bool {
	if s.prices == nil {
		return false
	}
	return s.prices.Update(q)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTrade),
		errors.Is(err, domain.ErrInvalidWeights),
		errors.Is(err, domain.ErrInvalidSignal):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
