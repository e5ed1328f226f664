package postgres

import (
	"context"
	"fmt"

	"strategy-ledger/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// SaveSnapshot replaces the snapshot stored under name.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO idempotency_snapshots (name, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, name, data); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot stored under name.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM idempotency_snapshots WHERE name = $1`, name).Scan(&data)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return data, nil
}
