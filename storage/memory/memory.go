// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jmcleod/gomok/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*storage.MatchRecord
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*storage.MatchRecord)}
}

func (r *Repository) Put(_ context.Context, rec *storage.MatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[rec.MatchID] = storage.Clone(rec)
	return nil
}

func (r *Repository) Get(_ context.Context, matchID string) (*storage.MatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data[matchID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", matchID, storage.ErrNotFound)
	}
	return storage.Clone(rec), nil
}

func (r *Repository) List(_ context.Context, limit int) ([]*storage.MatchRecord, error) {
	r.mu.RLock()
	recs := make([]*storage.MatchRecord, 0, len(r.data))
	for _, rec := range r.data {
		recs = append(recs, storage.Clone(rec))
	}
	r.mu.RUnlock()

	storage.SortRecent(recs)
	if limit > 0 && len(recs) > limit {
		recs = slices.Clip(recs[:limit])
	}
	return recs, nil
}
