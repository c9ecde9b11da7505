// Package transport defines the duplex channel abstraction between a
// Vocalink client and the recognition backend, and the [Manager] that owns
// its lifecycle: connect, handshake, heartbeat, reconnect-with-backoff, and
// teardown.
//
// The two primary abstractions are:
//
//   - [Dialer] — establishes a [Conn] to a backend URL.
//   - [Conn] — a raw duplex message connection carrying JSON text frames and
//     binary audio frames.
//
// Implementations are provided by adapter packages (transport/ws for
// production WebSockets, transport/mock for tests). The interfaces are
// intentionally narrow so the protocol layer never inspects raw transport
// state directly — all lifecycle observation goes through [Manager.State]
// and the state-change callback.
package transport

import "context"

// MessageKind distinguishes JSON control messages from binary audio frames
// on the duplex channel.
type MessageKind int

const (
	// KindText is a JSON control message.
	KindText MessageKind = iota

	// KindBinary is an audio frame.
	KindBinary
)

// String returns the human-readable name of the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Conn is an established duplex message connection. Implementations must
// support one concurrent reader and one concurrent writer; the [Manager]
// guarantees it never exceeds that.
type Conn interface {
	// Read blocks until the next inbound message arrives or ctx is done.
	Read(ctx context.Context) (MessageKind, []byte, error)

	// Write sends one message. A nil return means the transport accepted
	// the message for delivery — the contract the frame sequencer's commit
	// discipline is built on.
	Write(ctx context.Context, kind MessageKind, data []byte) error

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}

// Dialer establishes connections to a backend.
type Dialer interface {
	// Dial connects to the backend at url. The returned Conn is ready for
	// use immediately.
	Dial(ctx context.Context, url string) (Conn, error)
}
