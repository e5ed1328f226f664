// Package sqlite stores idempotency snapshots in a single-node SQLite file through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"strategy-ledger/internal/storage"
)

// snapshotModel maps to the 'idempotency_snapshots' table.
type snapshotModel struct {
	Name      string    `gorm:"column:name;primaryKey"`
	Data      []byte    `gorm:"column:data;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (snapshotModel) TableName() string { return "idempotency_snapshots" }

// SnapshotStore implements storage.SnapshotStore using gorm + SQLite.
type SnapshotStore struct {
	db *gorm.DB
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Open opens (creating if needed) the SQLite file at path and migrates the schema.
func Open(path string) (*SnapshotStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite snapshot store: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&snapshotModel{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps SQLite lock contention out of the persist loop.
	sqlDB.SetMaxOpenConns(1)
	return &SnapshotStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSnapshot replaces the snapshot stored under name.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return storage.ErrInvalidInput
	}
	model := snapshotModel{Name: name, Data: data, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot stored under name.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, name string) ([]byte, error) {
	var model snapshotModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return model.Data, nil
}
