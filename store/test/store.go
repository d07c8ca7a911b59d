// Package test provides a store backed by a throwaway sqlite database for
// store-level tests.
package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/papertalk/papertalk/internal/profile"
	"github.com/papertalk/papertalk/store"
	"github.com/papertalk/papertalk/store/db"
)

// NewTestingStore creates a migrated sqlite store under a temp directory.
// The store is closed automatically when the test finishes.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	dir := t.TempDir()
	testProfile := &profile.Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: "sqlite",
		DSN:    filepath.Join(dir, "papertalk_test.db"),
	}

	driver, err := db.NewDBDriver(testProfile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	testStore := store.New(driver, testProfile)
	if err := testStore.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		_ = testStore.Close()
	})
	return testStore
}
