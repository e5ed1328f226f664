// Package filestore keeps idempotency snapshots as files in one directory.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"strategy-ledger/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore on the local filesystem.
// Each snapshot is written to a temporary file and renamed into place.
type SnapshotStore struct {
	mu  sync.Mutex
	dir string
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// New creates the directory if needed and returns a store rooted at it.
func New(dir string) (*SnapshotStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file snapshot store: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", storage.ErrInvalidInput
	}
	return filepath.Join(s.dir, name+".snapshot"), nil
}

// SaveSnapshot replaces the snapshot stored under name.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, name string, data []byte) error {
	dst, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot %s: %w", name, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot stored under name.
func (s *SnapshotStore) LoadSnapshot(_ context.Context, name string) ([]byte, error) {
	src, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	return data, nil
}
