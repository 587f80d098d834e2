// Package bbolt provides a BBolt-backed match history repository.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jmcleod/gomok/storage"
	"go.etcd.io/bbolt"
)

var matchesBucket = []byte("matches")

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(matchesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating matches bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(_ context.Context, rec *storage.MatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding match %s: %w", rec.MatchID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(matchesBucket).Put([]byte(rec.MatchID), data)
	})
}

func (s *Store) Get(_ context.Context, matchID string) (*storage.MatchRecord, error) {
	var rec storage.MatchRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(matchesBucket).Get([]byte(matchID))
		if data == nil {
			return fmt.Errorf("%s: %w", matchID, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(_ context.Context, limit int) ([]*storage.MatchRecord, error) {
	var recs []*storage.MatchRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(matchesBucket).ForEach(func(_, v []byte) error {
			var rec storage.MatchRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	storage.SortRecent(recs)
	if limit > 0 && len(recs) > limit {
		recs = slices.Clip(recs[:limit])
	}
	return recs, nil
}
