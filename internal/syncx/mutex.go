package syncx

import "context"

// Mutex is a mutual exclusion lock whose Lock can be abandoned through a
// context. The zero value is not usable; use NewMutex.
type Mutex struct {
	sem chan struct{}
}

// NewMutex returns an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: make(chan struct{}, 1)}
}

// Lock acquires the mutex or returns ctx's error.
func (m *Mutex) Lock(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the mutex if it is free.
func (m *Mutex) TryLock() bool {
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *Mutex) Unlock() {
	select {
	case <-m.sem:
	default:
		panic("syncx: unlock of unlocked mutex")
	}
}
