// Package sequence provides the per-session frame sequence counter.
//
// The backend rejects any audio frame whose sequence number does not match
// its own expected next value, and rejection is fatal to the session. The
// [FrameSequencer] therefore enforces a strict discipline: a sender peeks the
// number to attempt with [FrameSequencer.Next], performs the network write
// outside any lock, and calls [FrameSequencer.Commit] with that same number
// only after the transport accepted the frame. A failed send never advances
// the counter, and an out-of-order commit is rejected rather than applied.
package sequence

import (
	"fmt"
	"sync"
)

// FrameSequencer owns a monotonically increasing frame counter for one
// session. The counter starts at 1 and advances only on [FrameSequencer.Commit].
// All methods are safe for concurrent use; the critical section contains no
// I/O, so a slow network write never blocks a producer peeking its next value.
type FrameSequencer struct {
	mu   sync.Mutex
	next uint32
}

// New creates a [FrameSequencer] with the counter at 1.
func New() *FrameSequencer {
	return &FrameSequencer{next: 1}
}

// Next returns the sequence number the next frame should carry. It does not
// mutate state: repeated calls without an intervening [FrameSequencer.Commit]
// return the same value. This is what makes a failed send safe — the number
// is simply attempted again by the next frame.
func (s *FrameSequencer) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Commit advances the counter past seq. It must be called only after the
// transport accepted the frame carrying seq. Committing any number other
// than the current one is a programming error on the send path and is
// rejected so the counter can never skip or repeat.
func (s *FrameSequencer) Commit(seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.next {
		return fmt.Errorf("sequence: commit %d out of order, expected %d", seq, s.next)
	}
	s.next++
	return nil
}

// Reset returns the counter to 1. Called exclusively at session creation —
// a new session never continues a prior session's sequence space.
func (s *FrameSequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 1
}
