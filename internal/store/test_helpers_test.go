package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/crosstx/internal/record"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "primary.db")
	s, err := Open(path, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// usageRecord builds a minimal usage_record payload.
func usageRecord(id, user string, tokens int64) record.Object {
	return record.Object{
		"id":      record.String(id),
		"user_id": record.String(user),
		"tokens":  record.Int(tokens),
	}
}
