// Package relay implements the two-party session protocol: registration,
// matchmaking by key, the pre-game handshake, single-slot move relay,
// disconnect cascade and idle-session reaping.
//
// All mutable session and queue state lives behind one Store lock.
// Waiting happens outside the lock on the channels of the syncx primitives,
// so every blocking operation takes a context and can be abandoned and
// retried without changing the protocol state.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmcleod/gomok/internal/util"
	"github.com/jmcleod/gomok/storage"
)

const (
	// PublicKey is the shared queue for free-style games.
	PublicKey = "public"
	// PublicRenjuKey is the shared queue for games under renju restrictions.
	PublicRenjuKey = "public-renju"
)

// IsPublicKey reports whether key names one of the shared public queues.
// Every other key is a private room.
func IsPublicKey(key string) bool {
	return key == PublicKey || key == PublicRenjuKey
}

// NormalizeKey canonicalises a client-supplied matching key. An empty key
// joins the public queue.
func NormalizeKey(key string) string {
	key = util.NormalizeKey(key)
	if key == "" {
		return PublicKey
	}
	return key
}

// Store is the registry of live sessions, the matchmaking queue and the
// expiration index.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	waiting  map[string]*Session
	expiry   *expiryIndex

	ttl     time.Duration
	now     func() time.Time
	seed    func() int
	logger        *slog.Logger
	history       storage.Repository
	historyWriter *historyWriter

	matches atomic.Int64
	expired atomic.Int64

	reaperMu     sync.Mutex
	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		waiting:  make(map[string]*Session),
		expiry:   newExpiryIndex(),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		seed:     defaultSeed,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	s.logger = s.logger.With("component", "relay")
	if s.history != nil {
		s.historyWriter = startHistoryWriter(s.history, s.logger)
	}
	return s
}

// TTL returns the idle window of a session.
func (st *Store) TTL() time.Duration {
	return st.ttl
}

// Register creates a session for id and tries to pair it with a session
// waiting under the same matching key.
func (st *Store) Register(id, key string, info json.RawMessage) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("empty id: %w", ErrUnknownSession)
	}
	key = NormalizeKey(key)
	now := st.now()

	st.mu.Lock()
	if _, ok := st.sessions[id]; ok {
		st.mu.Unlock()
		return nil, ErrDuplicateID
	}
	s := newSession(id, key, info, util.Fingerprint(id), now)
	st.sessions[id] = s
	st.touchLocked(s, now)
	t := st.pairLocked(s, now)
	var w *historyWrite
	if t != nil {
		w = s.pair.history.snapshotLocked()
	}
	st.mu.Unlock()

	st.logger.Info("registered", "client", s.fingerprint, "public", IsPublicKey(key))
	if t != nil {
		st.matches.Add(1)
		st.logger.Info("matched", "match_id", w.rec.MatchID, "first", t.fingerprint, "second", s.fingerprint)
		st.recordHistory(w)
	}
	return s, nil
}

// Lookup returns the live session registered under id.
func (st *Store) Lookup(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Touch renews the session's activity deadline.
func (st *Store) Touch(s *Session) {
	now := st.now()
	st.mu.Lock()
	if !s.removed {
		st.touchLocked(s, now)
	}
	st.mu.Unlock()
}

func (st *Store) touchLocked(s *Session, now time.Time) {
	deadline := now.Add(st.ttl)
	if !deadline.After(s.deadline) {
		return
	}
	s.deadline = deadline
	st.expiry.push(s, deadline)
}

// Deadline returns the session's current activity deadline.
func (st *Store) Deadline(s *Session) time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.deadline
}

// Established reports whether the session completed its handshake.
func (st *Store) Established(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.established
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Sessions    int   `json:"sessions"`
	Waiting     int   `json:"waiting"`
	Established int   `json:"established"`
	Matches     int64 `json:"matches"`
	Expired     int64 `json:"expired"`
}

// Stats returns current counters.
func (st *Store) Stats() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	stats := Stats{
		Sessions: len(st.sessions),
		Waiting:  len(st.waiting),
		Matches:  st.matches.Load(),
		Expired:  st.expired.Load(),
	}
	for _, s := range st.sessions {
		if s.established {
			stats.Established++
		}
	}
	return stats
}

// wait blocks until ready is closed, the session disconnects or ctx is
// done. A disconnect takes priority over readiness.
func wait(ctx context.Context, s *Session, ready <-chan struct{}) error {
	if s.disconnected.IsOpen() {
		return ErrDisconnected
	}
	select {
	case <-ready:
		if s.disconnected.IsOpen() {
			return ErrDisconnected
		}
		return nil
	case <-s.disconnected.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}
