package relay

import (
	"time"

	"github.com/eapache/queue"
)

// expiryIndex orders sessions by deadline. Every renewal extends a deadline
// to now plus the same window, so appending keeps the ring sorted. A renewal
// leaves the old entry behind; entries whose deadline no longer matches
// their session are stale and skipped when they reach the front.
type expiryIndex struct {
	q *queue.Queue
}

type expiryEntry struct {
	s        *Session
	deadline time.Time
}

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{q: queue.New()}
}

func (x *expiryIndex) push(s *Session, deadline time.Time) {
	x.q.Add(expiryEntry{s: s, deadline: deadline})
}

// popExpired removes and returns every live session at the front of the
// index whose deadline is not after now. Must be called with the store
// lock held.
func (x *expiryIndex) popExpired(now time.Time) []*Session {
	var out []*Session
	for x.q.Length() > 0 {
		e := x.q.Peek().(expiryEntry)
		if e.s.removed || !e.deadline.Equal(e.s.deadline) {
			x.q.Remove()
			continue
		}
		if e.deadline.After(now) {
			break
		}
		x.q.Remove()
		out = append(out, e.s)
	}
	return out
}
