package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='records'").Scan(&name)
	if err != nil {
		t.Errorf("records table not found after idempotent opens: %v", err)
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "2", // FULL
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "1",
	}
	for name, want := range checks {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected Open() to reject a newer schema version")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/dir/primary.db"); err == nil {
		t.Fatal("expected error for unwritable path")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on empty store = %v", err)
	}
}
