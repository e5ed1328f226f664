package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyMetadata describes a strategy known to the ledger.
type StrategyMetadata struct {
	StrategyName     string           `json:"strategy_name" yaml:"strategy_name"`
	DisplayName      string           `json:"display_name" yaml:"display_name"`
	SourceReference  string           `json:"source_reference" yaml:"source_reference"` // where the strategy is defined
	AssetUniverse    []string         `json:"asset_universe" yaml:"asset_universe"`     // symbols it may trade
	AllocatedCapital *decimal.Decimal `json:"allocated_capital,omitempty" yaml:"-"`     // nullable
	CreatedAt        time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time        `json:"updated_at" yaml:"-"`
}

// DisplayOrName returns the display name, falling back to the strategy name.
func (m *StrategyMetadata) DisplayOrName() string {
	if m == nil {
		return ""
	}
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.StrategyName
}

// RebalancePlanItem is one target in a rebalance plan.
type RebalancePlanItem struct {
	Symbol           string          `json:"symbol"`
	Action           SignalAction    `json:"action"`
	TargetAllocation decimal.Decimal `json:"target_allocation"`
}

// RebalancePlan is a set of target allocations issued for one workflow.
type RebalancePlan struct {
	CorrelationID string              `json:"correlation_id"`
	StrategyName  string              `json:"strategy_name"`
	Items         []RebalancePlanItem `json:"items"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Clone returns a deep copy.
func (m *StrategyMetadata) Clone() *StrategyMetadata {
	c := *m
	c.AssetUniverse = append([]string(nil), m.AssetUniverse...)
	return &c
}
