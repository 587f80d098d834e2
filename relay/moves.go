package relay

import "context"

// SubmitMove publishes m as the latest move from s to its peer and wakes the
// peer's pending NextMove.
//
// The peer's own slot is cleared first: s answering means it has consumed
// the peer's previous move. The relay does not check turn order.
func (st *Store) SubmitMove(s *Session, m Move) error {
	if err := m.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !s.established {
		return ErrNotEstablished
	}
	if s.disconnected.IsOpen() {
		return ErrDisconnected
	}
	if peer := s.peer.Value(); peer != nil {
		peer.move = nil
	}
	s.move = &m
	s.moveReady.Notify()
	return nil
}

// AwaitMove blocks until the peer of s has a move pending and returns it.
//
// The slot is not drained. A retried poll returns the same move again until
// s submits its reply, which is what makes abandoning a poll safe.
func (st *Store) AwaitMove(ctx context.Context, s *Session) (Move, error) {
	for {
		st.mu.Lock()
		if !s.established {
			st.mu.Unlock()
			return Move{}, ErrNotEstablished
		}
		peer := s.peer.Value()
		if peer == nil {
			st.mu.Unlock()
			return Move{}, ErrDisconnected
		}
		if peer.move != nil {
			m := *peer.move
			st.mu.Unlock()
			if s.disconnected.IsOpen() {
				return Move{}, ErrDisconnected
			}
			return m, nil
		}
		ready := peer.moveReady.Wait()
		st.mu.Unlock()

		if err := wait(ctx, s, ready); err != nil {
			return Move{}, err
		}
	}
}
