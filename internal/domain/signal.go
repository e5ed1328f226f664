package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction is the decision a strategy emitted.
type SignalAction string

const (
	SignalActionBuy  SignalAction = "BUY"
	SignalActionSell SignalAction = "SELL"
	SignalActionHold SignalAction = "HOLD"
)

// Valid reports whether a is a known action.
func (a SignalAction) Valid() bool {
	switch a {
	case SignalActionBuy, SignalActionSell, SignalActionHold:
		return true
	}
	return false
}

// LifecycleState is the disposition of a signal.
//
//	GENERATED -> EXECUTED | IGNORED | SUPERSEDED
//
// All outcome states are terminal.
type LifecycleState string

const (
	LifecycleGenerated  LifecycleState = "GENERATED"
	LifecycleExecuted   LifecycleState = "EXECUTED"
	LifecycleIgnored    LifecycleState = "IGNORED"
	LifecycleSuperseded LifecycleState = "SUPERSEDED"
)

// AllLifecycleStates lists every state in declaration order.
var AllLifecycleStates = []LifecycleState{
	LifecycleGenerated,
	LifecycleExecuted,
	LifecycleIgnored,
	LifecycleSuperseded,
}

// Valid reports whether s is a known state.
func (s LifecycleState) Valid() bool {
	switch s {
	case LifecycleGenerated, LifecycleExecuted, LifecycleIgnored, LifecycleSuperseded:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s LifecycleState) IsTerminal() bool {
	return s == LifecycleExecuted || s == LifecycleIgnored || s == LifecycleSuperseded
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to LifecycleState) bool {
	return from == LifecycleGenerated && to.IsTerminal()
}

// SignalRecord is one strategy decision.
// Only the lifecycle manager mutates LifecycleState and ExecutedTradeIDs.
type SignalRecord struct {
	SignalID         string          `json:"signal_id"`
	CorrelationID    string          `json:"correlation_id"`
	CausationID      string          `json:"causation_id"`
	StrategyName     string          `json:"strategy_name"`
	Symbol           string          `json:"symbol"`
	Action           SignalAction    `json:"action"`
	TargetAllocation decimal.Decimal `json:"target_allocation"` // fraction of allocated capital
	Reasoning        string          `json:"reasoning"`
	LifecycleState   LifecycleState  `json:"lifecycle_state"`
	ExecutedTradeIDs []string        `json:"executed_trade_ids"` // ordered, append-only
	CreatedAt        time.Time       `json:"created_at"`
}

// Normalize canonicalizes the symbol, defaults the state and converts CreatedAt to UTC.
func (s *SignalRecord) Normalize() error {
	sym, err := NormalizeSymbol(s.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	s.Symbol = sym
	if s.LifecycleState == "" {
		s.LifecycleState = LifecycleGenerated
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return nil
}

// Validate checks field constraints.
func (s *SignalRecord) Validate() error {
	if s.SignalID == "" {
		return fmt.Errorf("%w: signal_id is required", ErrInvalidSignal)
	}
	if s.CorrelationID == "" {
		return fmt.Errorf("%w: correlation_id is required", ErrInvalidSignal)
	}
	if s.StrategyName == "" {
		return fmt.Errorf("%w: strategy_name is required", ErrInvalidSignal)
	}
	if _, err := NormalizeSymbol(s.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if !s.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidSignal, s.Action)
	}
	if !s.LifecycleState.Valid() {
		return fmt.Errorf("%w: unknown lifecycle state %q", ErrInvalidSignal, s.LifecycleState)
	}
	if s.TargetAllocation.IsNegative() || s.TargetAllocation.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: target_allocation must be within [0, 1]", ErrInvalidSignal)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidSignal)
	}
	return nil
}

// HasTrade reports whether tradeID is already recorded on the signal.
func (s *SignalRecord) HasTrade(tradeID string) bool {
	for _, id := range s.ExecutedTradeIDs {
		if id == tradeID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *SignalRecord) Clone() *SignalRecord {
	c := *s
	c.ExecutedTradeIDs = append([]string(nil), s.ExecutedTradeIDs...)
	return &c
}

// SignalStats counts a strategy's signals per lifecycle state.
type SignalStats struct {
	Generated  int `json:"generated"`
	Executed   int `json:"executed"`
	Ignored    int `json:"ignored"`
	Superseded int `json:"superseded"`

	// ExecutionRate is executed / resolved * 100, nil when nothing is resolved yet.
	ExecutionRate *decimal.Decimal `json:"execution_rate,omitempty"`
}

// Total returns the number of signals counted.
func (s SignalStats) Total() int {
	return s.Generated + s.Executed + s.Ignored + s.Superseded
}
