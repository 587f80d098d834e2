package relay

import (
	"encoding/json"
	"time"
	"weak"

	"github.com/jmcleod/gomok/internal/syncx"
)

// Session is the server-side record of one registered participant.
//
// The immutable fields are set at registration. Everything else is guarded
// by the owning Store's lock and only reachable through Store methods.
type Session struct {
	id          string
	fingerprint string
	info        json.RawMessage
	key         string
	createdAt   time.Time

	peer        weak.Pointer[Session]
	pair        *pairing
	number      int
	established bool
	move        *Move
	deadline    time.Time
	removed     bool

	matched      *syncx.Latch
	disconnected *syncx.Latch
	moveReady    syncx.Signal
}

// pairing is the state both peers of a match share by reference, so seed
// and handshake barrier are identical on both sides by construction.
type pairing struct {
	seed      int
	handshake *syncx.Barrier
	peerInfo  [2]json.RawMessage
	history   matchHistory
}

func newSession(id, key string, info json.RawMessage, fingerprint string, now time.Time) *Session {
	return &Session{
		id:           id,
		fingerprint:  fingerprint,
		info:         info,
		key:          key,
		createdAt:    now,
		matched:      syncx.NewLatch(),
		disconnected: syncx.NewLatch(),
	}
}

// ID returns the client-chosen session id.
func (s *Session) ID() string { return s.id }

// Fingerprint returns the log-safe form of the id.
func (s *Session) Fingerprint() string { return s.fingerprint }

// Info returns the opaque metadata supplied at registration.
func (s *Session) Info() json.RawMessage { return s.info }

// Key returns the normalised matching key.
func (s *Session) Key() string { return s.key }

// Matched returns a channel closed once the session is paired.
func (s *Session) Matched() <-chan struct{} { return s.matched.Done() }

// Disconnected returns a channel closed once the session is terminal.
func (s *Session) Disconnected() <-chan struct{} { return s.disconnected.Done() }

// MatchInfo is what a session learns about its pairing.
type MatchInfo struct {
	// Info is the peer's registration metadata.
	Info   json.RawMessage
	Seed   int
	Number int
}
