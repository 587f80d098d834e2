package syncx

import (
	"context"
	"sync"
)

// Latch is a one-shot condition. Once Open is called every current and
// future waiter observes it as resolved.
type Latch struct {
	once sync.Once
	done chan struct{}
}

// NewLatch returns an unresolved latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Open resolves the latch. It reports whether this call performed the
// transition; later calls are no-ops that return false.
func (l *Latch) Open() bool {
	opened := false
	l.once.Do(func() {
		close(l.done)
		opened = true
	})
	return opened
}

// Done returns a channel that is closed once the latch is open.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// IsOpen reports whether Open has been called.
func (l *Latch) IsOpen() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch opens or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
