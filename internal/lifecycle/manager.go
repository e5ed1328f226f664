// Package lifecycle moves signals through GENERATED -> EXECUTED | IGNORED | SUPERSEDED.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// DefaultMaxRetries bounds re-reads after a concurrent state change.
const DefaultMaxRetries = 5

// ErrInvalidTarget is returned for a target state outside the state machine.
var ErrInvalidTarget = errors.New("invalid lifecycle target state")

// Outcome is the result of a transition request.
type Outcome string

const (
	// OutcomeApplied moved a GENERATED signal to a terminal state.
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeAppended added new trade ids to an EXECUTED signal.
	OutcomeAppended Outcome = "APPENDED"
	// OutcomeNoOp found the signal already in the requested state with nothing to add.
	OutcomeNoOp Outcome = "NO_OP"
	// OutcomeRejected refused to leave a terminal state.
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeNotFound found no signal with the id.
	OutcomeNotFound Outcome = "NOT_FOUND"
)

// Result reports a transition request.
type Result struct {
	Outcome Outcome
	Signal  *domain.SignalRecord // stored state after the request; nil when not found
}

// Manager is the only writer of signal lifecycle state.
type Manager struct {
	store      storage.SignalStore
	logger     *zap.Logger
	maxRetries int
}

// NewManager creates a new Manager.
func NewManager(store storage.SignalStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		logger:     logger.Named("lifecycle"),
		maxRetries: DefaultMaxRetries,
	}
}

// Transition requests signalID to move to state to, appending tradeIDs.
// Unknown signals and refused transitions are reported in the result, not as errors.
func (m *Manager) Transition(ctx context.Context, signalID string, to domain.LifecycleState, tradeIDs []string) (*Result, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, to)
	}

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		cur, err := m.store.GetSignal(ctx, signalID)
		if errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("lifecycle transition for unknown signal",
				zap.String("signal_id", signalID),
				zap.String("to", string(to)))
			return &Result{Outcome: OutcomeNotFound}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get signal %s: %w", signalID, err)
		}

		outcome, expected := plan(cur, to, tradeIDs)
		switch outcome {
		case OutcomeNoOp:
			return &Result{Outcome: OutcomeNoOp, Signal: cur}, nil
		case OutcomeRejected:
			m.logger.Warn("rejected transition out of terminal state",
				zap.String("signal_id", signalID),
				zap.String("correlation_id", cur.CorrelationID),
				zap.String("from", string(cur.LifecycleState)),
				zap.String("to", string(to)))
			return &Result{Outcome: OutcomeRejected, Signal: cur}, nil
		}

		updated, err := m.store.UpdateSignalLifecycle(ctx, storage.SignalLifecycleUpdate{
			SignalID:       signalID,
			ExpectedStates: []domain.LifecycleState{expected},
			NewState:       to,
			CreatedAt:      cur.CreatedAt,
			AppendTradeIDs: tradeIDs,
		})
		switch {
		case err == nil:
			m.logger.Debug("signal transitioned",
				zap.String("signal_id", signalID),
				zap.String("correlation_id", cur.CorrelationID),
				zap.String("outcome", string(outcome)),
				zap.String("state", string(to)))
			return &Result{Outcome: outcome, Signal: updated}, nil
		case errors.Is(err, storage.ErrConditionFailed):
			// State moved underneath us; re-read and re-plan.
			continue
		case errors.Is(err, storage.ErrNotFound):
			m.logger.Warn("signal disappeared during transition", zap.String("signal_id", signalID))
			return &Result{Outcome: OutcomeNotFound}, nil
		default:
			return nil, fmt.Errorf("update signal %s lifecycle: %w", signalID, err)
		}
	}
	return nil, fmt.Errorf("update signal %s lifecycle: %w", signalID, storage.ErrConditionFailed)
}

// plan decides the outcome of moving cur to `to` and the state the write is conditioned on.
func plan(cur *domain.SignalRecord, to domain.LifecycleState, tradeIDs []string) (Outcome, domain.LifecycleState) {
	from := cur.LifecycleState
	switch {
	case domain.CanTransition(from, to):
		return OutcomeApplied, from
	case from == to && to == domain.LifecycleExecuted && hasNew(cur, tradeIDs):
		return OutcomeAppended, from
	case from == to:
		return OutcomeNoOp, from
	default:
		return OutcomeRejected, from
	}
}

func hasNew(cur *domain.SignalRecord, tradeIDs []string) bool {
	for _, id := range tradeIDs {
		if !cur.HasTrade(id) {
			return true
		}
	}
	return false
}

// SupersedeOlder marks GENERATED signals of the same strategy and symbol
// created before sig as SUPERSEDED. Returns the number of signals changed.
func (m *Manager) SupersedeOlder(ctx context.Context, sig *domain.SignalRecord) (int, error) {
	signals, err := m.store.QuerySignalsByLifecycleState(ctx, domain.LifecycleGenerated, storage.QueryOptions{})
	if err != nil {
		return 0, fmt.Errorf("query generated signals: %w", err)
	}

	changed := 0
	for _, s := range signals {
		if s.SignalID == sig.SignalID || s.StrategyName != sig.StrategyName || s.Symbol != sig.Symbol {
			continue
		}
		if !s.CreatedAt.Before(sig.CreatedAt) {
			continue
		}
		res, err := m.Transition(ctx, s.SignalID, domain.LifecycleSuperseded, nil)
		if err != nil {
			return changed, err
		}
		if res.Outcome == OutcomeApplied {
			changed++
		}
	}
	return changed, nil
}

// CompleteWorkflow marks the workflow's remaining GENERATED signals IGNORED.
// Returns the number of signals changed.
func (m *Manager) CompleteWorkflow(ctx context.Context, correlationID string) (int, error) {
	signals, err := m.store.QuerySignalsByCorrelation(ctx, correlationID, storage.QueryOptions{})
	if err != nil {
		return 0, fmt.Errorf("query workflow signals: %w", err)
	}

	changed := 0
	for _, s := range signals {
		if s.LifecycleState != domain.LifecycleGenerated {
			continue
		}
		res, err := m.Transition(ctx, s.SignalID, domain.LifecycleIgnored, nil)
		if err != nil {
			return changed, err
		}
		if res.Outcome == OutcomeApplied {
			changed++
		}
	}
	m.logger.Info("workflow completed",
		zap.String("correlation_id", correlationID),
		zap.Int("ignored", changed))
	return changed, nil
}
