// Package mock provides a scripted in-memory implementation of the
// [capture.Producer] interface for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalink/pkg/capture"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// Producer is a mock [capture.Producer]. Frames are not produced on a timer;
// tests push them explicitly with [Producer.Emit].
type Producer struct {
	// OnFrame receives emitted frames. Set before Start.
	OnFrame func(voxtypes.Frame)

	// StartError, when non-nil, is returned by Start (simulates a setup
	// error such as an unavailable input device).
	StartError error

	mu      sync.Mutex
	running bool

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

var _ capture.Producer = (*Producer)(nil)

// Start implements [capture.Producer].
func (p *Producer) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStart++
	if p.StartError != nil {
		return p.StartError
	}
	p.running = true
	return nil
}

// Stop implements [capture.Producer].
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStop++
	p.running = false
}

// Running reports whether the producer is between Start and Stop.
func (p *Producer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Emit delivers one frame to the configured callback if the producer is
// running. Returns true if the frame was delivered.
func (p *Producer) Emit(frame voxtypes.Frame) bool {
	p.mu.Lock()
	running := p.running
	cb := p.OnFrame
	p.mu.Unlock()

	if !running || cb == nil {
		return false
	}
	cb(frame)
	return true
}
