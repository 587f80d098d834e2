package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"weak"

	"github.com/jmcleod/gomok/internal/syncx"
	"github.com/jmcleod/gomok/storage"
)

// pairLocked either parks s as the waiting session for its key or pairs it
// with the session already waiting there, which it returns. The waiting
// session always receives number 0.
func (st *Store) pairLocked(s *Session, now time.Time) *Session {
	t, ok := st.waiting[s.key]
	if !ok {
		st.waiting[s.key] = s
		return nil
	}
	delete(st.waiting, s.key)

	p := &pairing{
		seed:      st.seed(),
		handshake: syncx.NewBarrier(2),
		peerInfo:  [2]json.RawMessage{t.info, s.info},
	}
	p.history.record = storage.MatchRecord{
		MatchID:   fmt.Sprintf("%s-%s-%d", t.fingerprint, s.fingerprint, now.UnixNano()),
		Key:       privateKeyLabel(s.key),
		Public:    IsPublicKey(s.key),
		Players:   [2]string{t.fingerprint, s.fingerprint},
		Seed:      p.seed,
		MatchedAt: now,
	}

	t.peer, t.pair, t.number = weak.Make(s), p, 0
	s.peer, s.pair, s.number = weak.Make(t), p, 1
	t.matched.Open()
	s.matched.Open()
	return t
}

// privateKeyLabel keeps public queue names in history but never records a
// private room token, which acts as a shared secret between two players.
func privateKeyLabel(key string) string {
	if IsPublicKey(key) {
		return key
	}
	return ""
}

// Waiting reports whether s is parked in the matchmaking queue.
func (st *Store) Waiting(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.waiting[s.key] == s
}

// Peer returns the session paired with s, or nil if s is unmatched or its
// peer has been reclaimed.
func (st *Store) Peer(s *Session) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.peer.Value()
}

// AwaitMatch blocks until s is paired and returns what it learned about the
// pairing.
func (st *Store) AwaitMatch(ctx context.Context, s *Session) (MatchInfo, error) {
	if err := wait(ctx, s, s.matched.Done()); err != nil {
		return MatchInfo{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return MatchInfo{
		Info:   s.pair.peerInfo[1-s.number],
		Seed:   s.pair.seed,
		Number: s.number,
	}, nil
}
