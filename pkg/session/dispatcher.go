package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/vocalink/pkg/protocol"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// DispatcherCallbacks receive classified inbound messages. All callbacks may
// be nil; they are invoked from the connection manager's read goroutine and
// must not block.
type DispatcherCallbacks struct {
	// OnTranscript receives interim and final transcripts that passed the
	// result-window checks. Each interim supersedes the previous one.
	OnTranscript func(voxtypes.Transcript)

	// OnRecoverableError receives application-level errors that do not
	// affect the session lifecycle.
	OnRecoverableError func(*RemoteError)

	// OnFatalError receives protocol-fatal errors. The subscriber is
	// expected to tear the session down; the dispatcher itself only
	// classifies.
	OnFatalError func(*RemoteError)

	// OnControlAck receives recording_start_ack and recording_end_ack
	// messages for the active session.
	OnControlAck func(msg any)
}

// Dispatcher classifies inbound protocol messages and enforces the result
// window: transcripts are only delivered for the active session, and once a
// final transcript is delivered the window closes — later interims for that
// session are discarded.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	cb DispatcherCallbacks

	mu        sync.Mutex
	activeID  string
	finalSeen bool
}

// NewDispatcher creates a [Dispatcher]. The result window starts closed;
// open it with [Dispatcher.OpenWindow] when a session is established.
func NewDispatcher(cb DispatcherCallbacks) *Dispatcher {
	return &Dispatcher{cb: cb}
}

// OpenWindow marks sessionID as the active session and resets the
// final-delivered latch. Called at session creation, including the fresh
// session minted on reconnect.
func (d *Dispatcher) OpenWindow(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeID = sessionID
	d.finalSeen = false
}

// CloseWindow discards the active session. Subsequent transcripts are
// dropped until a new window opens. Used on teardown and cancellation so a
// cancelled recording never delivers a transcript.
func (d *Dispatcher) CloseWindow() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeID = ""
	d.finalSeen = false
}

// Dispatch classifies one decoded inbound message and invokes the matching
// callback. Unrecognised message types are logged and ignored — they are
// never an error.
func (d *Dispatcher) Dispatch(msg any) {
	switch m := msg.(type) {
	case *protocol.STTResult:
		d.dispatchResult(m)
	case *protocol.Error:
		d.dispatchError(m)
	case *protocol.RecordingStartAck:
		if d.isActive(m.SessionID) && d.cb.OnControlAck != nil {
			d.cb.OnControlAck(m)
		}
	case *protocol.RecordingEndAck:
		if d.isActive(m.SessionID) && d.cb.OnControlAck != nil {
			d.cb.OnControlAck(m)
		}
	case *protocol.HelloAck:
		// Handshake acks are consumed by the connection manager; a late
		// duplicate is harmless.
		slog.Debug("ignoring late hello_ack", "session_id", m.SessionID)
	case *protocol.Unknown:
		slog.Info("ignoring unrecognised message type", "type", m.MessageType)
	default:
		slog.Debug("ignoring unexpected inbound message", "type", fmt.Sprintf("%T", msg))
	}
}

// dispatchResult applies the result-window rules before delivering a
// transcript.
func (d *Dispatcher) dispatchResult(m *protocol.STTResult) {
	d.mu.Lock()
	if m.SessionID != d.activeID || d.activeID == "" {
		d.mu.Unlock()
		slog.Debug("dropping transcript for inactive session", "session_id", m.SessionID)
		return
	}
	if d.finalSeen {
		d.mu.Unlock()
		slog.Debug("dropping transcript after final", "session_id", m.SessionID)
		return
	}
	if m.Data.IsFinal {
		d.finalSeen = true
	}
	d.mu.Unlock()

	if d.cb.OnTranscript != nil {
		d.cb.OnTranscript(voxtypes.Transcript{
			SessionID:  m.SessionID,
			Text:       m.Data.Text,
			IsFinal:    m.Data.IsFinal,
			Confidence: m.Data.Confidence,
		})
	}
}

// dispatchError classifies a remote error by its code.
func (d *Dispatcher) dispatchError(m *protocol.Error) {
	re := &RemoteError{
		SessionID: m.SessionID,
		Code:      m.Data.Code,
		Message:   m.Data.Message,
	}
	if re.Fatal() {
		slog.Error("fatal protocol error from backend", "code", re.Code, "message", re.Message)
		if d.cb.OnFatalError != nil {
			d.cb.OnFatalError(re)
		}
		return
	}
	slog.Warn("recoverable error from backend", "code", re.Code, "message", re.Message)
	if d.cb.OnRecoverableError != nil {
		d.cb.OnRecoverableError(re)
	}
}

// isActive reports whether sessionID is the active session.
func (d *Dispatcher) isActive(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sessionID == d.activeID
}
