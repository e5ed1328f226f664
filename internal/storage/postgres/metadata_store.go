package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// PutStrategyMetadata inserts or replaces metadata. created_at of an existing row is kept.
func (s *LedgerStore) PutStrategyMetadata(ctx context.Context, m *domain.StrategyMetadata) error {
	if m == nil || m.StrategyName == "" {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metadata payload: %w", err)
	}

	query := insertItemSQL + `
		ON CONFLICT (pk, sk) DO UPDATE SET
			strategy_pk = EXCLUDED.strategy_pk,
			strategy_sk = EXCLUDED.strategy_sk,
			version = ledger_items.version + 1,
			payload = jsonb_set(EXCLUDED.payload, '{created_at}',
				COALESCE(ledger_items.payload->'created_at', EXCLUDED.payload->'created_at'))
	`
	if _, err := s.pool.Exec(ctx, query, itemArgs(storage.MetadataKeys(m), 0, payload)...); err != nil {
		return fmt.Errorf("upsert strategy metadata: %w", err)
	}
	return nil
}

// GetStrategyMetadata retrieves metadata by strategy name.
func (s *LedgerStore) GetStrategyMetadata(ctx context.Context, strategyName string) (*domain.StrategyMetadata, error) {
	return getItem[domain.StrategyMetadata](ctx, s.pool, storage.MetadataPK(strategyName), storage.MetadataSK)
}

// ListStrategyMetadata returns all metadata ordered by strategy name.
func (s *LedgerStore) ListStrategyMetadata(ctx context.Context) ([]*domain.StrategyMetadata, error) {
	return queryIndex[domain.StrategyMetadata](ctx, s.pool, indexQuery{
		index:      storage.IndexStrategy,
		pk:         storage.MetadataIndexPK(),
		entityType: storage.EntityStrategyMetadata,
	})
}

// DeleteStrategyMetadata removes metadata by strategy name.
func (s *LedgerStore) DeleteStrategyMetadata(ctx context.Context, strategyName string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_items WHERE pk = $1 AND sk = $2`,
		storage.MetadataPK(strategyName), storage.MetadataSK,
	)
	if err != nil {
		return fmt.Errorf("delete strategy metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
