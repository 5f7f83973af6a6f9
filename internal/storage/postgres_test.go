//go:build postgres

package storage

import (
	"context"
	"os"
	"testing"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("NEURON_PG_DSN")
	if dsn == "" {
		t.Skip("NEURON_PG_DSN not set")
	}
	store := NewPostgresStore(dsn)
	t.Cleanup(func() {
		ctx := context.Background()
		if db, err := store.getDB(); err == nil {
			_, _ = db.ExecContext(ctx, `DROP TABLE IF EXISTS checkpoints, runs, loss_history`)
		}
		_ = store.Close()
	})
	exerciseStore(t, store)
}
