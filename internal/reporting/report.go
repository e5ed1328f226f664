package reporting

import (
	"time"

	"strategy-ledger/internal/domain"
)

// PhaseStatus is the outcome of one collector phase.
type PhaseStatus string

const (
	PhaseSuccess PhaseStatus = "SUCCESS"
	PhaseFailed  PhaseStatus = "FAILED"
	PhaseSkipped PhaseStatus = "SKIPPED"
)

// RunStatus is the overall outcome of a collector run.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
)

// PhaseResult is one row of the phase status map.
type PhaseResult struct {
	Name     string        `json:"name"`
	Status   PhaseStatus   `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// StrategyRow is the performance of one strategy in a report.
type StrategyRow struct {
	Summary *domain.PerformanceSummary `json:"summary"`
	Sharpe  *domain.SharpeResult       `json:"sharpe,omitempty"` // nil when not computable
}

// Report is the result of one collector run.
type Report struct {
	CorrelationID string        `json:"correlation_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Status        RunStatus     `json:"status"`
	Phases        []PhaseResult `json:"phases"` // in execution order

	// Strategies sorted by strategy name.
	Strategies []StrategyRow `json:"strategies"`

	// Errors lists per-strategy failures that did not fail the run.
	Errors []string `json:"errors,omitempty"`
}

// PhaseStatuses returns the phase status map.
func (r *Report) PhaseStatuses() map[string]PhaseStatus {
	out := make(map[string]PhaseStatus, len(r.Phases))
	for _, p := range r.Phases {
		out[p.Name] = p.Status
	}
	return out
}

// Snapshots converts the report into metrics rows.
func (r *Report) Snapshots() []domain.PerformanceSnapshot {
	out := make([]domain.PerformanceSnapshot, 0, len(r.Strategies))
	for _, row := range r.Strategies {
		snap := domain.SnapshotFromSummary(row.Summary, r.CorrelationID, r.StartedAt)
		if row.Sharpe != nil {
			ratio := row.Sharpe.Ratio
			snap.SharpeRatio = &ratio
		}
		out = append(out, snap)
	}
	return out
}

// overallStatus folds phase outcomes. A run fails outright when its first
// phase fails or when no phase that ran succeeded.
func overallStatus(phases []PhaseResult) RunStatus {
	if len(phases) == 0 {
		return RunFailed
	}
	if phases[0].Status == PhaseFailed {
		return RunFailed
	}
	var ran, failed int
	for _, p := range phases {
		switch p.Status {
		case PhaseSuccess:
			ran++
		case PhaseFailed:
			ran++
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunSuccess
	case failed == ran:
		return RunFailed
	default:
		return RunPartial
	}
}
