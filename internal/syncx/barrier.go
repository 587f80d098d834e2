package syncx

import "sync"

// Barrier releases once every one of its parties is inside it at the same
// time. Parties are numbered 0..n-1.
//
// Each attempt calls Arrive on entry and Leave on exit, whether or not the
// attempt observed the release. Abandoned attempts therefore leave the
// counts unchanged, so a party may retry any number of times without the
// barrier resolving before all parties are inside at once. Overlapping
// attempts by one party count as that party once. Release is permanent:
// after it, Arrive returns an already closed channel.
type Barrier struct {
	mu       sync.Mutex
	inside   []int
	released chan struct{}
}

// NewBarrier returns a barrier for n parties.
func NewBarrier(n int) *Barrier {
	return &Barrier{
		inside:   make([]int, n),
		released: make(chan struct{}),
	}
}

// Arrive counts one attempt of party in and returns the release channel.
// It panics if party is out of range.
func (b *Barrier) Arrive(party int) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inside[party]++
	if b.missingLocked() == 0 {
		select {
		case <-b.released:
		default:
			close(b.released)
		}
	}
	return b.released
}

// Leave compensates one Arrive of party.
func (b *Barrier) Leave(party int) {
	b.mu.Lock()
	b.inside[party]--
	b.mu.Unlock()
}

// Released reports whether the barrier has released.
func (b *Barrier) Released() bool {
	select {
	case <-b.released:
		return true
	default:
		return false
	}
}

// Remaining returns the number of parties not currently inside.
func (b *Barrier) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.missingLocked()
}

func (b *Barrier) missingLocked() int {
	n := 0
	for _, c := range b.inside {
		if c <= 0 {
			n++
		}
	}
	return n
}
