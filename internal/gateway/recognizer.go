// Package gateway implements the reference recognition backend: a WebSocket
// server speaking the Vocalink session protocol, forwarding audio to a
// pluggable [Recognizer] and relaying results back as stt_result messages.
//
// The gateway enforces the same contract the client promises: a hello opens
// exactly one session per connection, audio frames carry strictly increasing
// sequence numbers starting at 1, and an out-of-order frame is fatal.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// EmitFunc delivers one recognition result for the stream's session.
// Recognizers may call it from any goroutine until [Stream.Close] returns.
type EmitFunc func(voxtypes.Transcript)

// Recognizer converts per-session PCM audio into recognition results.
// Implementations must be safe for concurrent use across sessions.
type Recognizer interface {
	// NewStream opens a recognition stream for one utterance. Results are
	// delivered through emit: zero or more interim transcripts followed by
	// exactly one final transcript after [Stream.Finish].
	NewStream(ctx context.Context, sessionID string, params voxtypes.AudioParams, emit EmitFunc) (Stream, error)
}

// Stream receives the audio of a single utterance.
type Stream interface {
	// Write feeds one frame of PCM audio, in capture order.
	Write(ctx context.Context, payload []byte) error

	// Finish marks end-of-utterance. The recognizer flushes pending audio
	// and emits the final transcript before Finish returns.
	Finish(ctx context.Context) error

	// Close releases the stream. Safe to call after Finish, or instead of
	// it when the utterance is abandoned.
	Close() error
}

// ErrRecognizerNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested name.
var ErrRecognizerNotRegistered = errors.New("gateway: recognizer not registered")

// Registry maps recognizer names to their constructor functions, letting the
// gateway binary select a backend by configuration. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() (Recognizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() (Recognizer, error))}
}

// Register registers a recognizer factory under name. Subsequent calls with
// the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func() (Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the recognizer registered under name.
// Returns [ErrRecognizerNotRegistered] if no factory exists for that name.
func (r *Registry) Create(name string) (Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecognizerNotRegistered, name)
	}
	return factory()
}

// Names returns the registered recognizer names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
