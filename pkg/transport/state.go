package transport

// State represents the connection lifecycle position of a [Manager].
//
// The topology is fixed:
//
//	Disconnected → Connecting → Handshaking → Ready → Streaming
//	      ↑                                      │        │
//	      └────────── Reconnecting ←─────────────┴────────┘
//
// with the terminal state Closed reached either by a local close request or
// by exhausting the reconnect attempt budget.
type State int

const (
	// StateDisconnected is the initial state, and the state entered after a
	// retryable transport failure before reconnection begins.
	StateDisconnected State = iota

	// StateConnecting means a transport-level dial is in progress.
	StateConnecting

	// StateHandshaking means the dial succeeded and the hello message has
	// been sent; the manager is waiting for a matching hello_ack.
	StateHandshaking

	// StateReady means the handshake completed and the channel can carry
	// control messages and audio.
	StateReady

	// StateStreaming is Ready plus at least one audio frame sent on the
	// current session.
	StateStreaming

	// StateReconnecting means a retryable failure occurred and the manager
	// is re-establishing the connection with exponential backoff.
	StateReconnecting

	// StateClosed is terminal: either the caller requested teardown or the
	// reconnect budget was exhausted. A closed manager never dials again.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanSend reports whether audio frames and control messages may be written
// in this state.
func (s State) CanSend() bool {
	return s == StateReady || s == StateStreaming
}
