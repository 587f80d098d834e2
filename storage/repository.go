// Package storage provides the match history abstraction: an append-and-update
// log of pairings, their handshake and how they ended.
package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned when a match record does not exist.
var ErrNotFound = errors.New("match record not found")

// EndReason explains how a match ended.
type EndReason string

const (
	EndDisconnect EndReason = "disconnect"
	EndExpired    EndReason = "expired"
)

// MatchRecord describes one pairing. Players holds log-safe fingerprints of
// the two client ids, indexed by their pairing number.
type MatchRecord struct {
	MatchID       string    `json:"match_id"`
	Key           string    `json:"key,omitempty"`
	Public        bool      `json:"public"`
	Players       [2]string `json:"players"`
	Seed          int       `json:"seed"`
	MatchedAt     time.Time `json:"matched_at"`
	EstablishedAt time.Time `json:"established_at,omitzero"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
	EndReason     EndReason `json:"end_reason,omitempty"`
}

// Ended reports whether the match has finished.
func (r *MatchRecord) Ended() bool {
	return !r.EndedAt.IsZero()
}

// Repository stores match records. Put inserts or replaces a record by
// MatchID. List returns the most recently matched records first; a limit of
// zero or less returns all of them.
type Repository interface {
	Put(ctx context.Context, rec *MatchRecord) error
	Get(ctx context.Context, matchID string) (*MatchRecord, error)
	List(ctx context.Context, limit int) ([]*MatchRecord, error)
}

// Clone returns a deep copy of rec.
func Clone(rec *MatchRecord) *MatchRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}

// SortRecent orders records by MatchedAt, newest first, breaking ties by MatchID.
func SortRecent(recs []*MatchRecord) {
	slices.SortFunc(recs, func(a, b *MatchRecord) int {
		if c := b.MatchedAt.Compare(a.MatchedAt); c != 0 {
			return c
		}
		return strings.Compare(a.MatchID, b.MatchID)
	})
}
