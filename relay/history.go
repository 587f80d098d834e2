package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/gomok/storage"
)

const (
	historyTimeout = 5 * time.Second
	// historyQueueSize bounds the writes waiting for the history writer.
	historyQueueSize = 1024
)

// matchHistory is the persisted view of one pairing. Snapshots are taken
// under the store lock and written by the history writer; the version keeps
// an older snapshot that was queued late from overwriting a newer one.
type matchHistory struct {
	record  storage.MatchRecord
	version int
	// written is only touched by the history writer goroutine.
	written int
}

type historyWrite struct {
	h       *matchHistory
	rec     *storage.MatchRecord
	version int
}

// snapshotLocked must be called with the store lock held.
func (h *matchHistory) snapshotLocked() *historyWrite {
	h.version++
	return &historyWrite{h: h, rec: storage.Clone(&h.record), version: h.version}
}

// historyWriter persists queued snapshots one at a time so a slow
// repository only delays history, never a protocol request.
type historyWriter struct {
	repo   storage.Repository
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *historyWrite
	done   chan struct{}
}

func startHistoryWriter(repo storage.Repository, logger *slog.Logger) *historyWriter {
	hw := &historyWriter{
		repo:   repo,
		logger: logger,
		queue:  make(chan *historyWrite, historyQueueSize),
		done:   make(chan struct{}),
	}
	go hw.loop()
	return hw
}

// enqueue never blocks. Writes after close, or beyond the queue bound, are
// dropped.
func (hw *historyWriter) enqueue(w *historyWrite) {
	hw.mu.RLock()
	defer hw.mu.RUnlock()
	if hw.closed {
		return
	}
	select {
	case hw.queue <- w:
	default:
		hw.logger.Warn("history queue full, dropping match update", "match_id", w.rec.MatchID)
	}
}

func (hw *historyWriter) loop() {
	defer close(hw.done)
	for w := range hw.queue {
		if w.version <= w.h.written {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		err := hw.repo.Put(ctx, w.rec)
		cancel()
		if err != nil {
			hw.logger.Error("failed to record match", "match_id", w.rec.MatchID, "error", err)
			continue
		}
		w.h.written = w.version
	}
}

// close stops accepting writes and waits for the queued ones to finish.
func (hw *historyWriter) close() {
	hw.mu.Lock()
	if hw.closed {
		hw.mu.Unlock()
		return
	}
	hw.closed = true
	close(hw.queue)
	hw.mu.Unlock()
	<-hw.done
}

// recordHistory queues w for the history writer. A failed write is logged
// and otherwise ignored; history never gates the protocol.
func (st *Store) recordHistory(w *historyWrite) {
	if st.historyWriter == nil || w == nil {
		return
	}
	st.historyWriter.enqueue(w)
}

// endLocked stamps the end of s's match once and returns the write to
// perform, or nil if the match already ended or never began.
func (st *Store) endLocked(s *Session, reason storage.EndReason, now time.Time) *historyWrite {
	if s.pair == nil {
		return nil
	}
	h := &s.pair.history
	if h.record.Ended() {
		return nil
	}
	h.record.EndedAt = now
	h.record.EndReason = reason
	return h.snapshotLocked()
}
