package relay

import (
	"context"
	"time"

	"github.com/jmcleod/gomok/storage"
)

// DefaultReapInterval is how often StartReaper sweeps the expiration index.
const DefaultReapInterval = 5 * time.Second

// Reap evicts every session whose deadline has passed, cascading the
// disconnect to its peer. It returns the number of sessions evicted.
func (st *Store) Reap() int {
	now := st.now()
	type reaped struct {
		s    *Session
		peer *Session
		w    *historyWrite
	}

	st.mu.Lock()
	var out []reaped
	for _, s := range st.expiry.popExpired(now) {
		st.evictLocked(s)
		out = append(out, reaped{s: s, peer: s.peer.Value(), w: st.endLocked(s, storage.EndExpired, now)})
	}
	st.mu.Unlock()

	for _, r := range out {
		r.s.disconnected.Open()
		if r.peer != nil {
			r.peer.disconnected.Open()
		}
		st.expired.Add(1)
		st.logger.Info("session expired", "client", r.s.fingerprint, "cascaded", r.peer != nil)
		st.recordHistory(r.w)
	}
	return len(out)
}

// StartReaper runs Reap every interval until Close is called. It does
// nothing if the reaper is already running.
func (st *Store) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	st.reaperMu.Lock()
	defer st.reaperMu.Unlock()
	if st.reaperCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	st.reaperCancel = cancel
	st.reaperDone = make(chan struct{})

	go func() {
		defer close(st.reaperDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := st.Reap(); n > 0 {
					st.logger.Debug("reaped sessions", "count", n)
				}
			}
		}
	}()
}

// Close stops the reaper, if running, and waits for queued history writes
// to finish. It is idempotent.
func (st *Store) Close() error {
	st.reaperMu.Lock()
	if st.reaperCancel != nil {
		st.reaperCancel()
		<-st.reaperDone
		st.reaperCancel = nil
	}
	st.reaperMu.Unlock()
	if st.historyWriter != nil {
		st.historyWriter.close()
	}
	return nil
}
