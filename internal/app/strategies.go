package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/ledger"
)

// strategyFile is the strategy registry import format.
type strategyFile struct {
	Strategies []strategyEntry `yaml:"strategies"`
}

type strategyEntry struct {
	Name             string   `yaml:"name"`
	DisplayName      string   `yaml:"display_name"`
	SourceReference  string   `yaml:"source_reference"`
	AssetUniverse    []string `yaml:"asset_universe"`
	AllocatedCapital string   `yaml:"allocated_capital"` // decimal string, optional
}

// ParseStrategies decodes a strategy registry file.
func ParseStrategies(r io.Reader) ([]*domain.StrategyMetadata, error) {
	var f strategyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode strategy file: %w", err)
	}

	seen := make(map[string]bool, len(f.Strategies))
	out := make([]*domain.StrategyMetadata, 0, len(f.Strategies))
	for i, e := range f.Strategies {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("strategy %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true

		m := &domain.StrategyMetadata{
			StrategyName:    name,
			DisplayName:     e.DisplayName,
			SourceReference: e.SourceReference,
			AssetUniverse:   make([]string, 0, len(e.AssetUniverse)),
		}
		for _, sym := range e.AssetUniverse {
			m.AssetUniverse = append(m.AssetUniverse, strings.ToUpper(strings.TrimSpace(sym)))
		}
		if e.AllocatedCapital != "" {
			c, err := decimal.NewFromString(e.AllocatedCapital)
			if err != nil {
				return nil, fmt.Errorf("strategy %q: allocated_capital: %w", name, err)
			}
			if c.IsNegative() {
				return nil, fmt.Errorf("strategy %q: allocated_capital must not be negative", name)
			}
			m.AllocatedCapital = &c
		}
		out = append(out, m)
	}
	return out, nil
}

// ImportStrategies writes every entry of a registry file. Existing strategies are updated.
func ImportStrategies(ctx context.Context, repo *ledger.Repository, r io.Reader) (int, error) {
	list, err := ParseStrategies(r)
	if err != nil {
		return 0, err
	}
	for _, m := range list {
		prev, ok, err := repo.GetStrategyMetadata(ctx, m.StrategyName)
		if err != nil {
			return 0, fmt.Errorf("get strategy %s: %w", m.StrategyName, err)
		}
		if ok {
			m.CreatedAt = prev.CreatedAt
		}
		if err := repo.PutStrategyMetadata(ctx, m); err != nil {
			return 0, fmt.Errorf("put strategy %s: %w", m.StrategyName, err)
		}
	}
	return len(list), nil
}
