package testutil

import (
	"testing"

	"empctl/internal/storage"
)

// NewTestStorage creates a new in-memory storage for testing.
func NewTestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// NewTestSQLiteStorage creates an in-memory SQLite storage with migrations
// applied. It is closed when the test completes.
func NewTestSQLiteStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	s, err := storage.NewSQLiteStorage(":memory:", FixedClock())
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
