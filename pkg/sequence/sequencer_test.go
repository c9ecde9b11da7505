package sequence

import (
	"sync"
	"testing"
)

func TestFrameSequencer_StartsAtOne(t *testing.T) {
	s := New()
	if got := s.Next(); got != 1 {
		t.Fatalf("expected first sequence number 1, got %d", got)
	}
}

func TestFrameSequencer_NextDoesNotAdvance(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		if got := s.Next(); got != 1 {
			t.Fatalf("Next call %d returned %d, want 1", i, got)
		}
	}
}

func TestFrameSequencer_CommitAdvances(t *testing.T) {
	s := New()

	for want := uint32(1); want <= 3; want++ {
		got := s.Next()
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
		if err := s.Commit(got); err != nil {
			t.Fatalf("commit %d: %v", got, err)
		}
	}
	if got := s.Next(); got != 4 {
		t.Errorf("expected 4 after three commits, got %d", got)
	}
}

func TestFrameSequencer_FailedSendDoesNotAdvance(t *testing.T) {
	s := New()

	seq := s.Next()
	// Simulate a failed send: no Commit happens.
	if got := s.Next(); got != seq {
		t.Errorf("expected same number %d after failed send, got %d", seq, got)
	}
}

func TestFrameSequencer_OutOfOrderCommitRejected(t *testing.T) {
	s := New()

	if err := s.Commit(2); err == nil {
		t.Error("expected error committing 2 before 1")
	}
	if err := s.Commit(1); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	if err := s.Commit(1); err == nil {
		t.Error("expected error committing 1 twice")
	}
	if got := s.Next(); got != 2 {
		t.Errorf("counter corrupted by rejected commits: got %d, want 2", got)
	}
}

func TestFrameSequencer_Reset(t *testing.T) {
	s := New()
	for i := uint32(1); i <= 5; i++ {
		if err := s.Commit(s.Next()); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	s.Reset()
	if got := s.Next(); got != 1 {
		t.Errorf("expected 1 after reset, got %d", got)
	}
}

// TestFrameSequencer_ConcurrentProducers drives the sequencer from multiple
// goroutines sharing a send-serialisation lock, the same shape the protocol
// client uses: peek, hand off, commit. The committed numbers must form a
// strictly increasing gap-free run from 1.
func TestFrameSequencer_ConcurrentProducers(t *testing.T) {
	const (
		producers       = 8
		framesPerWorker = 200
	)

	s := New()
	var (
		sendMu    sync.Mutex
		committed []uint32
		wg        sync.WaitGroup
	)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < framesPerWorker; i++ {
				sendMu.Lock()
				seq := s.Next()
				// The "send" happens here, outside the sequencer's own lock.
				committed = append(committed, seq)
				if err := s.Commit(seq); err != nil {
					t.Errorf("commit %d: %v", seq, err)
				}
				sendMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(committed) != producers*framesPerWorker {
		t.Fatalf("expected %d commits, got %d", producers*framesPerWorker, len(committed))
	}
	for i, seq := range committed {
		if seq != uint32(i+1) {
			t.Fatalf("commit %d carried sequence %d, want %d", i, seq, i+1)
		}
	}
}
