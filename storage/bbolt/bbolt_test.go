package bbolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmcleod/gomok/storage/storagetest"
	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history-test.db")
	s, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBBoltRepository(t *testing.T) {
	storagetest.RunRepositoryTests(t, newTestStore(t))
}

func TestBBoltReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	rec := storagetest.Record("m-persist", rec0Time)
	if err := s.Put(t.Context(), rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(t.Context(), "m-persist")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Seed != rec.Seed {
		t.Errorf("seed = %d, want %d", got.Seed, rec.Seed)
	}
}

var rec0Time = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
