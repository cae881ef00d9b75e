package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
)

// NewTestStore creates a Store connected to the test database named by
// TEST_MONGO_URL. Tests that need a live database call this and are
// skipped when the variable is unset, so the suite stays runnable
// without infrastructure.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("TEST_MONGO_URL")
	if uri == "" {
		t.Skip("TEST_MONGO_URL not set; skipping live store test")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), uri, "presale_monitor_test", logger)
	if err != nil {
		t.Fatalf("failed to connect to test mongo: %v", err)
	}
	if err := s.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("failed to create test indexes: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}
