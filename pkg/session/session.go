// Package session implements the client side of the Vocalink streaming
// recognition protocol: the [Client] that drives the wire-level conversation
// (hello/ack, recording markers, ordered audio frames, result ingestion) and
// the [Dispatcher] that classifies inbound messages and enforces the
// at-most-one-final result window.
//
// A [Session] represents one recognition conversation with its own sequence
// space. The Session value is exclusively owned by the Client for its
// lifetime; collaborators reference it by session id only.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vocalink/pkg/protocol"
	"github.com/MrWong99/vocalink/pkg/sequence"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// Session is one recognition conversation. Its sequence counter starts at 1
// and is never shared with a prior or successor session.
type Session struct {
	// ID is the opaque session identifier declared in the hello message.
	ID string

	// Params is the negotiated PCM format.
	Params voxtypes.AudioParams

	// CreatedAt records when the session was constructed.
	CreatedAt time.Time

	seq *sequence.FrameSequencer
}

// newSession constructs a Session with a fresh sequence counter. An empty id
// is replaced with a generated UUID.
func newSession(id string, params voxtypes.AudioParams) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		Params:    params,
		CreatedAt: time.Now(),
		seq:       sequence.New(),
	}
}

// wireParams converts the session's audio params to their wire form.
func (s *Session) wireParams() protocol.AudioParams {
	return protocol.AudioParams{
		Format:        s.Params.Format,
		SampleRate:    s.Params.SampleRate,
		Channels:      s.Params.Channels,
		BitsPerSample: s.Params.BitsPerSample,
	}
}
