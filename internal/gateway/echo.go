package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// interimEvery is how many frames an echo stream accepts between interim
// transcripts.
const interimEvery = 10

// EchoRecognizer is the built-in reference recognizer. It performs no actual
// speech recognition: it reports how much audio it received, emitting an
// interim transcript every few frames and a final summary on Finish. It
// exists so the gateway can be run and exercised end-to-end without a real
// recognition backend.
type EchoRecognizer struct{}

// NewEchoRecognizer returns the reference recognizer.
func NewEchoRecognizer() *EchoRecognizer { return &EchoRecognizer{} }

// NewStream implements [Recognizer].
func (r *EchoRecognizer) NewStream(_ context.Context, sessionID string, params voxtypes.AudioParams, emit EmitFunc) (Stream, error) {
	if emit == nil {
		return nil, fmt.Errorf("gateway: echo stream requires an emit callback")
	}
	return &echoStream{sessionID: sessionID, params: params, emit: emit}, nil
}

type echoStream struct {
	sessionID string
	params    voxtypes.AudioParams
	emit      EmitFunc

	mu       sync.Mutex
	frames   int
	bytes    int
	finished bool
}

func (s *echoStream) Write(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return fmt.Errorf("gateway: write after finish on session %s", s.sessionID)
	}
	s.frames++
	s.bytes += len(payload)

	if s.frames%interimEvery == 0 {
		s.emit(voxtypes.Transcript{
			SessionID:  s.sessionID,
			Text:       s.describeLocked(),
			IsFinal:    false,
			Confidence: 0,
		})
	}
	return nil
}

func (s *echoStream) Finish(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	s.finished = true
	s.emit(voxtypes.Transcript{
		SessionID:  s.sessionID,
		Text:       s.describeLocked(),
		IsFinal:    true,
		Confidence: 1,
	})
	return nil
}

func (s *echoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

// describeLocked summarises the audio received so far. Callers hold s.mu.
func (s *echoStream) describeLocked() string {
	duration := time.Duration(0)
	if bytesPerSecond := s.params.FrameBytes(time.Second); bytesPerSecond > 0 {
		duration = time.Duration(s.bytes) * time.Second / time.Duration(bytesPerSecond)
	}
	return fmt.Sprintf("received %d frames (%d bytes, ~%s of audio)", s.frames, s.bytes, duration.Round(10*time.Millisecond))
}
