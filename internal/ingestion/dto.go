package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-ledger/internal/analytics"
	"strategy-ledger/internal/domain"
)

// Envelope types carried by the event feed.
const (
	EnvelopeTrade         = "trade"
	EnvelopeSignal        = "signal"
	EnvelopeSignalOutcome = "signal_outcome"
	EnvelopeRebalancePlan = "rebalance_plan"
	EnvelopePrice         = "price"
)

// Envelope is one feed message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TradeDTO is a fill as reported on the wire. Decimals are strings and
// timestamps RFC 3339 with an explicit offset.
type TradeDTO struct {
	OrderID         string            `json:"order_id"`
	CorrelationID   string            `json:"correlation_id"`
	CausationID     string            `json:"causation_id"`
	LedgerID        string            `json:"ledger_id,omitempty"`
	SignalID        string            `json:"signal_id,omitempty"`
	Symbol          string            `json:"symbol"`
	Direction       string            `json:"direction"`
	FilledQty       string            `json:"filled_qty"`
	FillPrice       string            `json:"fill_price"`
	FillTimestamp   string            `json:"fill_timestamp"`
	OrderType       string            `json:"order_type"`
	BidAtFill       *string           `json:"bid_at_fill,omitempty"`
	AskAtFill       *string           `json:"ask_at_fill,omitempty"`
	StrategyNames   []string          `json:"strategy_names,omitempty"`
	StrategyWeights map[string]string `json:"strategy_weights,omitempty"`
}

// ToRecord converts the DTO into a TradeRecord.
func (d *TradeDTO) ToRecord() (*domain.TradeRecord, error) {
	qty, err := parseDecimal("filled_qty", d.FilledQty)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTrade, err)
	}
	price, err := parseDecimal("fill_price", d.FillPrice)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTrade, err)
	}
	ts, err := parseTimestamp("fill_timestamp", d.FillTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTrade, err)
	}

	t := &domain.TradeRecord{
		OrderID:       d.OrderID,
		CorrelationID: d.CorrelationID,
		CausationID:   d.CausationID,
		LedgerID:      d.LedgerID,
		SignalID:      d.SignalID,
		Symbol:        d.Symbol,
		Direction:     domain.Direction(d.Direction),
		FilledQty:     qty,
		FillPrice:     price,
		FillTimestamp: ts,
		OrderType:     domain.OrderType(d.OrderType),
		StrategyNames: d.StrategyNames,
	}
	if t.BidAtFill, err = parseOptional("bid_at_fill", d.BidAtFill); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTrade, err)
	}
	if t.AskAtFill, err = parseOptional("ask_at_fill", d.AskAtFill); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTrade, err)
	}
	if d.StrategyWeights != nil {
		t.StrategyWeights = make(map[string]decimal.Decimal, len(d.StrategyWeights))
		for name, raw := range d.StrategyWeights {
			w, err := parseDecimal("strategy_weights."+name, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWeights, err)
			}
			t.StrategyWeights[name] = w
		}
	}
	return t, nil
}

// SignalDTO is a strategy signal as reported on the wire.
type SignalDTO struct {
	SignalID         string `json:"signal_id"`
	CorrelationID    string `json:"correlation_id"`
	CausationID      string `json:"causation_id"`
	StrategyName     string `json:"strategy_name"`
	Symbol           string `json:"symbol"`
	Action           string `json:"action"`
	TargetAllocation string `json:"target_allocation"`
	Reasoning        string `json:"reasoning"`
	CreatedAt        string `json:"created_at"`
}

// ToRecord converts the DTO into a GENERATED SignalRecord.
func (d *SignalDTO) ToRecord() (*domain.SignalRecord, error) {
	alloc, err := parseDecimal("target_allocation", d.TargetAllocation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
	}
	created, err := parseTimestamp("created_at", d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
	}
	return &domain.SignalRecord{
		SignalID:         d.SignalID,
		CorrelationID:    d.CorrelationID,
		CausationID:      d.CausationID,
		StrategyName:     d.StrategyName,
		Symbol:           d.Symbol,
		Action:           domain.SignalAction(d.Action),
		TargetAllocation: alloc,
		Reasoning:        d.Reasoning,
		LifecycleState:   domain.LifecycleGenerated,
		CreatedAt:        created,
	}, nil
}

// SignalOutcomeDTO reports what became of a signal.
type SignalOutcomeDTO struct {
	SignalID string   `json:"signal_id"`
	State    string   `json:"state"`
	TradeIDs []string `json:"trade_ids,omitempty"`
}

// RebalancePlanDTO is a set of target allocations for one workflow.
type RebalancePlanDTO struct {
	CorrelationID string                 `json:"correlation_id"`
	StrategyName  string                 `json:"strategy_name"`
	Items         []RebalancePlanItemDTO `json:"items"`
}

// RebalancePlanItemDTO is one target allocation.
type RebalancePlanItemDTO struct {
	Symbol           string `json:"symbol"`
	Action           string `json:"action"`
	TargetAllocation string `json:"target_allocation"`
}

// ToPlan converts the DTO into a RebalancePlan.
func (d *RebalancePlanDTO) ToPlan(now time.Time) (*domain.RebalancePlan, error) {
	plan := &domain.RebalancePlan{
		CorrelationID: d.CorrelationID,
		StrategyName:  d.StrategyName,
		CreatedAt:     now.UTC(),
	}
	for _, it := range d.Items {
		alloc, err := parseDecimal("target_allocation", it.TargetAllocation)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignal, err)
		}
		plan.Items = append(plan.Items, domain.RebalancePlanItem{
			Symbol:           it.Symbol,
			Action:           domain.SignalAction(it.Action),
			TargetAllocation: alloc,
		})
	}
	return plan, nil
}

// PriceDTO is a price observation.
type PriceDTO struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %v", field, err)
	}
	return v, nil
}

func parseOptional(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := parseDecimal(field, *raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseTimestamp requires RFC 3339 with an offset and returns UTC.
func parseTimestamp(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %v", field, err)
	}
	return ts.UTC(), nil
}

// HandleEnvelope decodes one feed message and routes it.
// Malformed payloads are returned as errors; the feed logs and continues.
func (s *Service) HandleEnvelope(ctx context.Context, env Envelope) error {
	switch env.Type {
	case EnvelopeTrade:
		var dto TradeDTO
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}
		t, err := dto.ToRecord()
		if err != nil {
			s.recorder.RecordIngest("trade", OutcomeRejected)
			return err
		}
		_, err = s.SubmitTrade(ctx, t)
		return err

	case EnvelopeSignal:
		var dto SignalDTO
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return fmt.Errorf("decode signal: %w", err)
		}
		sig, err := dto.ToRecord()
		if err != nil {
			s.recorder.RecordIngest("signal", OutcomeRejected)
			return err
		}
		_, err = s.SubmitSignal(ctx, sig)
		return err

	case EnvelopeSignalOutcome:
		var dto SignalOutcomeDTO
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return fmt.Errorf("decode signal outcome: %w", err)
		}
		_, err := s.NotifySignalOutcome(ctx, dto.SignalID, domain.LifecycleState(dto.State), dto.TradeIDs)
		return err

	case EnvelopeRebalancePlan:
		var dto RebalancePlanDTO
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return fmt.Errorf("decode rebalance plan: %w", err)
		}
		plan, err := dto.ToPlan(time.Now())
		if err != nil {
			return err
		}
		claimed, err := s.ClaimRebalancePlan(ctx, plan)
		if err != nil {
			return err
		}
		if claimed {
			s.logger.Info("rebalance plan claimed",
				zap.String("strategy", plan.StrategyName),
				zap.String("correlation_id", plan.CorrelationID),
				zap.Int("items", len(plan.Items)))
		}
		return nil

	case EnvelopePrice:
		var dto PriceDTO
		if err := json.Unmarshal(env.Payload, &dto); err != nil {
			return fmt.Errorf("decode price: %w", err)
		}
		price, err := parseDecimal("price", dto.Price)
		if err != nil {
			return err
		}
		ts, err := parseTimestamp("timestamp", dto.Timestamp)
		if err != nil {
			return err
		}
		s.UpdatePrice(analytics.Quote{Symbol: dto.Symbol, Price: price, At: ts})
		return nil

	default:
		return fmt.Errorf("unknown envelope type %q", env.Type)
	}
}
