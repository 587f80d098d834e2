package relay

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jmcleod/gomok/storage"
)

const (
	// DefaultSessionTTL is how long a session survives without a request.
	DefaultSessionTTL = 180 * time.Second
	// seedRange bounds the shared random seed handed to both peers.
	seedRange = 1 << 16
)

// Option configures a Store.
type Option func(*Store)

// WithSessionTTL sets the idle window after which the reaper evicts a session.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSeedSource replaces the source of pairing seeds.
func WithSeedSource(seed func() int) Option {
	return func(s *Store) {
		s.seed = seed
	}
}

// WithLogger sets the structured logger for protocol events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithHistory records every pairing and its outcome in repo.
func WithHistory(repo storage.Repository) Option {
	return func(s *Store) {
		s.history = repo
	}
}

func defaultSeed() int {
	return rand.IntN(seedRange)
}
