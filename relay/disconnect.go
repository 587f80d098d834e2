package relay

import "github.com/jmcleod/gomok/storage"

// Disconnect ends s and cascades the disconnect to its peer. It is
// idempotent.
//
// s leaves the registry, so its id may be registered again. The peer stays
// registered with its disconnected latch open until it disconnects itself
// or expires, so its polls keep answering with a disconnect.
func (st *Store) Disconnect(s *Session) {
	now := st.now()
	st.mu.Lock()
	first := st.evictLocked(s)
	w := st.endLocked(s, storage.EndDisconnect, now)
	peer := s.peer.Value()
	st.mu.Unlock()

	s.disconnected.Open()
	if peer != nil {
		peer.disconnected.Open()
	}
	if !first {
		return
	}
	st.logger.Info("session disconnected", "client", s.fingerprint, "cascaded", peer != nil)
	st.recordHistory(w)
}

// evictLocked removes s from the registry and from the matchmaking queue.
// It reports whether this call removed it.
func (st *Store) evictLocked(s *Session) bool {
	if s.removed {
		return false
	}
	s.removed = true
	if cur, ok := st.sessions[s.id]; ok && cur == s {
		delete(st.sessions, s.id)
	}
	if st.waiting[s.key] == s {
		delete(st.waiting, s.key)
	}
	return true
}

// Removed reports whether s has left the registry.
func (st *Store) Removed(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.removed
}
