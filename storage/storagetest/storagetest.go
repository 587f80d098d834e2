// Package storagetest holds the conformance suite every storage.Repository
// backend runs in its own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmcleod/gomok/storage"
)

// Record returns a populated match record for tests.
func Record(id string, matchedAt time.Time) *storage.MatchRecord {
	return &storage.MatchRecord{
		MatchID:   id,
		Key:       "public",
		Public:    true,
		Players:   [2]string{"aaaaaaaaaaaa", "bbbbbbbbbbbb"},
		Seed:      4242,
		MatchedAt: matchedAt.UTC().Truncate(time.Millisecond),
	}
}

// RunRepositoryTests runs the common suite against repo. repo must be empty.
func RunRepositoryTests(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("PutAndGet", func(t *testing.T) {
		rec := Record("m-1", base)
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, "m-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.MatchID != rec.MatchID || got.Seed != rec.Seed || got.Players != rec.Players || !got.MatchedAt.Equal(rec.MatchedAt) {
			t.Errorf("Get returned wrong record: %+v", got)
		}
		if got.Ended() {
			t.Error("fresh record should not be ended")
		}
	})

	t.Run("PutIsolation", func(t *testing.T) {
		rec := Record("m-iso", base)
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		rec.Seed = 1
		got, err := repo.Get(ctx, "m-iso")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Seed != 4242 {
			t.Errorf("stored record changed through caller's pointer: seed %d", got.Seed)
		}
	})

	t.Run("UpdateEnd", func(t *testing.T) {
		rec := Record("m-end", base)
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		rec.EstablishedAt = base.Add(time.Second)
		rec.EndedAt = base.Add(time.Minute)
		rec.EndReason = storage.EndExpired
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("second Put failed: %v", err)
		}
		got, err := repo.Get(ctx, "m-end")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.Ended() || got.EndReason != storage.EndExpired {
			t.Errorf("end not recorded: %+v", got)
		}
		if !got.EstablishedAt.Equal(rec.EstablishedAt) {
			t.Errorf("EstablishedAt = %v, want %v", got.EstablishedAt, rec.EstablishedAt)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "no-such-match")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		if err := repo.Put(ctx, Record("m-late", base.Add(time.Hour))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		recs, err := repo.List(ctx, 0)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(recs) < 2 {
			t.Fatalf("expected at least 2 records, got %d", len(recs))
		}
		if recs[0].MatchID != "m-late" {
			t.Errorf("first record = %s, want m-late", recs[0].MatchID)
		}

		limited, err := repo.List(ctx, 1)
		if err != nil {
			t.Fatalf("List with limit failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("limit 1 returned %d records", len(limited))
		}
	})
}
