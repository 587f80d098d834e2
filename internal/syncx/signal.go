package syncx

import "sync"

// Signal is a repeatable, edge-triggered wakeup. Wait arms a wait on the
// current generation; Notify releases that generation and starts a new one.
//
// A Notify with nobody armed is not remembered. Callers that must not miss
// an event re-check their condition after arming, under the same lock that
// guards the notifier.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// Wait returns a channel closed by the next Notify.
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Notify wakes every waiter armed since the previous Notify.
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
	}
	s.ch = make(chan struct{})
}
