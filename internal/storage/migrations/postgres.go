package migrations

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"strategy-ledger/internal/storage/postgres"
)

// ApplyPostgres applies the ledger_items and idempotency_snapshots schema.
// Every file is idempotent, so re-running is safe.
func ApplyPostgres(ctx context.Context, pool *postgres.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		logger.Info("postgres migration applied", zap.String("file", m.Name))
	}
	return nil
}
