package engine

import (
	"context"
	"testing"

	"github.com/quintale/engram/internal/storage/sqlite"
	"github.com/quintale/engram/pkg/types"
)

// newEngineTestStore creates an in-memory SQLite store with corrections
// enabled for engine-level tests.
func newEngineTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:", sqlite.Options{EnableCorrections: true})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustInsert(t *testing.T, store *sqlite.Store, rec *types.MemoryRecord) int64 {
	t.Helper()
	if rec.Content == "" {
		rec.Content = "test content"
	}
	id, err := store.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	return id
}
