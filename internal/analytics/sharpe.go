package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// TradingDaysPerYear annualizes daily figures.
const TradingDaysPerYear = 252

// SharpeRatio computes the annualized Sharpe ratio over lookback, or the
// configured default when lookback <= 0. The bool is false when there is not
// enough data or volatility is zero.
func (s *Service) SharpeRatio(ctx context.Context, strategyName string, lookback time.Duration) (*domain.SharpeResult, bool, error) {
	if strategyName == "" {
		return nil, false, ErrEmptyStrategy
	}
	if lookback <= 0 {
		lookback = s.cfg.SharpeLookback
	}
	end := s.now()
	start := end.Add(-lookback)

	var window []*domain.StrategyLot
	for _, lot := range s.repo.QueryClosedLots(ctx, strategyName, storage.QueryOptions{}) {
		closed, ok := lot.ClosedAt()
		if !ok || closed.Before(start) || closed.After(end) {
			continue
		}
		window = append(window, lot)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	logger := s.logger.With(zap.String("strategy", strategyName))
	if len(window) < s.cfg.MinClosedLots {
		logger.Info("insufficient closed lots for sharpe ratio",
			zap.Int("closed_lots", len(window)), zap.Int("required", s.cfg.MinClosedLots))
		return nil, false, nil
	}

	days := dailyPnL(window)
	if len(days) < s.cfg.MinTradingDays {
		logger.Info("insufficient trading days for sharpe ratio",
			zap.Int("days", len(days)), zap.Int("required", s.cfg.MinTradingDays))
		return nil, false, nil
	}

	avgPos := averagePositionValue(window)
	if !avgPos.IsPositive() {
		logger.Warn("zero average position value, sharpe ratio undefined")
		return nil, false, nil
	}

	dates := make([]string, 0, len(days))
	for day := range days {
		dates = append(dates, day)
	}
	sort.Strings(dates)
	returns := make([]float64, 0, len(dates))
	for _, day := range dates {
		returns = append(returns, days[day].Div(avgPos).InexactFloat64())
	}

	mean := computeMean(returns)
	annReturn := mean * TradingDaysPerYear
	annVol := computeStddev(returns, mean) * math.Sqrt(TradingDaysPerYear)
	if annVol == 0 {
		logger.Warn("zero volatility, sharpe ratio undefined", zap.Int("days", len(days)))
		return nil, false, nil
	}

	return &domain.SharpeResult{
		StrategyName:         strategyName,
		Ratio:                (annReturn - s.cfg.RiskFreeRate) / annVol,
		AnnualizedReturn:     annReturn,
		AnnualizedVolatility: annVol,
		RiskFreeRate:         s.cfg.RiskFreeRate,
		ClosedLots:           len(window),
		TradingDays:          len(days),
		WindowStart:          start,
		WindowEnd:            end,
	}, true, nil
}
