package relay

import "context"

// Handshake blocks until both peers of s are inside a handshake attempt at
// the same time, then marks s established.
//
// Every attempt counts its side in on entry and out on exit, so an abandoned
// attempt never brings the barrier closer to release, and overlapping
// attempts from one side never stand in for the peer.
func (st *Store) Handshake(ctx context.Context, s *Session) error {
	st.mu.Lock()
	p, party := s.pair, s.number
	st.mu.Unlock()
	if p == nil {
		if s.disconnected.IsOpen() {
			return ErrDisconnected
		}
		return ErrNotMatched
	}

	released := p.handshake.Arrive(party)
	defer p.handshake.Leave(party)
	if err := wait(ctx, s, released); err != nil {
		return err
	}

	now := st.now()
	st.mu.Lock()
	s.established = true
	var w *historyWrite
	if p.history.record.EstablishedAt.IsZero() {
		p.history.record.EstablishedAt = now
		w = p.history.snapshotLocked()
	}
	st.mu.Unlock()

	st.logger.Debug("handshake complete", "client", s.fingerprint, "number", s.number)
	if w != nil {
		st.logger.Info("match established", "match_id", w.rec.MatchID)
		st.recordHistory(w)
	}
	return nil
}
