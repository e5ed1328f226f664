package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"strategy-ledger/internal/storage"
)

func TestSnapshotStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if _, err := store.LoadSnapshot(ctx, "signals"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := store.SaveSnapshot(ctx, "signals", []byte("v1")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := store.SaveSnapshot(ctx, "signals", []byte("v2")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := store.LoadSnapshot(ctx, "signals")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Expected v2, got %q", got)
	}

	if _, err := os.Stat(filepath.Join(dir, "signals.snapshot.part")); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestSnapshotStore_RejectsPathNames(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := store.SaveSnapshot(ctx, name, nil); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("SaveSnapshot(%q): expected ErrInvalidInput, got %v", name, err)
		}
	}
}
