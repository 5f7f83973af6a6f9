//go:build sqlite

package storage

import (
	"path/filepath"
	"testing"
)

func TestSQLiteStore(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "neuron.db"))
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestDefaultStoreKindWithSQLite(t *testing.T) {
	if got := DefaultStoreKind(); got != "sqlite" {
		t.Fatalf("expected sqlite default, got %s", got)
	}
}
