package session

import (
	"errors"
	"fmt"

	"github.com/MrWong99/vocalink/pkg/protocol"
)

// Sentinel errors returned by [Client] operations. They follow the error
// taxonomy of the protocol: setup errors are never retried, transport errors
// are retried by the connection manager, protocol errors are fatal to the
// session, and application-level errors pass through without affecting the
// session lifecycle.
var (
	// ErrAlreadyActive is returned by [Client.StartSession] when a session
	// is already open on this client.
	ErrAlreadyActive = errors.New("session: a session is already active")

	// ErrNoSession is returned by operations that require an open session.
	ErrNoSession = errors.New("session: no active session")

	// ErrNotReady is returned by [Client.SendFrame] when the connection
	// cannot carry audio. The frame is dropped, not queued — stale audio is
	// useless to a live recognizer.
	ErrNotReady = errors.New("session: connection not ready, frame dropped")

	// ErrAckTimeout is returned when the backend does not acknowledge a
	// recording_start or recording_end within the configured window.
	ErrAckTimeout = errors.New("session: control ack timed out")

	// ErrFinalTimeout is returned by [Client.AwaitFinal] when no final
	// transcript arrives within the caller's deadline.
	ErrFinalTimeout = errors.New("session: final transcript timed out")
)

// RemoteError is an error message received from the backend. Whether it is
// fatal to the session is decided by the protocol error-code taxonomy; fatal
// errors force teardown, recoverable ones are surfaced and the session
// continues.
type RemoteError struct {
	SessionID string
	Code      int
	Message   string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("session: remote error %d: %s", e.Code, e.Message)
}

// Fatal reports whether this error terminates the session. A sequence
// violation is always fatal: the remote's expected counter state cannot be
// safely inferred, so resynchronisation is never attempted.
func (e *RemoteError) Fatal() bool {
	return protocol.FatalCode(e.Code)
}
