// Package mock provides in-memory mock implementations of the
// [transport.Dialer] and [transport.Conn] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. Connections record every written
// message so tests can assert on ordering and content, and expose exported
// fields that control scripted behaviour (automatic handshake/recording
// acks, injected write failures).
//
// Typical usage:
//
//	dialer := &mock.Dialer{AutoAckHello: true, AutoAckRecording: true}
//	mgr, _ := transport.NewManager(transport.Config{Dialer: dialer, ...})
//	_ = mgr.Connect(ctx)
//	conn := dialer.LastConn()
//	conn.InjectText(payload) // simulate an inbound backend message
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/vocalink/pkg/protocol"
	"github.com/MrWong99/vocalink/pkg/transport"
)

// Message is one message recorded from or injected into a [Conn].
type Message struct {
	Kind transport.MessageKind
	Data []byte
}

// ErrConnClosed is returned by [Conn.Read] and [Conn.Write] after the
// connection was closed (locally or via [Conn.Fail]).
var ErrConnClosed = errors.New("mock: connection closed")

// Conn is a scripted mock implementation of [transport.Conn].
// Set the exported behaviour fields before handing it out; inspect recorded
// writes after.
type Conn struct {
	// AutoAckHello answers every written hello with a matching hello_ack.
	AutoAckHello bool

	// RejectHello answers hellos with status "rejected" instead of "ok".
	// Only meaningful together with AutoAckHello.
	RejectHello bool

	// AutoAckRecording answers recording_start and recording_end messages
	// with their acks.
	AutoAckRecording bool

	mu       sync.Mutex
	writeErr error
	writes   []Message

	inbound   chan Message
	closed    chan struct{}
	closeOnce sync.Once
	failErr   error
}

// NewConn creates a ready-to-use mock connection.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan Message, 64),
		closed:  make(chan struct{}),
	}
}

// Read implements [transport.Conn]. It blocks until a message is injected,
// the connection closes, or ctx is done.
func (c *Conn) Read(ctx context.Context) (transport.MessageKind, []byte, error) {
	select {
	case msg := <-c.inbound:
		return msg.Kind, msg.Data, nil
	case <-c.closed:
		c.mu.Lock()
		err := c.failErr
		c.mu.Unlock()
		if err == nil {
			err = ErrConnClosed
		}
		return 0, nil, err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Write implements [transport.Conn]. The message is recorded and any
// configured auto-acks are queued for the next Read.
func (c *Conn) Write(_ context.Context, kind transport.MessageKind, data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.writes = append(c.writes, Message{Kind: kind, Data: append([]byte(nil), data...)})
	c.mu.Unlock()

	if kind == transport.KindText {
		c.autoRespond(data)
	}
	return nil
}

// Close implements [transport.Conn]. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Fail closes the connection as if the transport had failed with err.
// Pending and future reads return err.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	c.failErr = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
}

// SetWriteError makes subsequent writes fail with err (nil restores success).
func (c *Conn) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// InjectText queues an inbound text message for the next Read.
func (c *Conn) InjectText(data []byte) {
	c.inject(Message{Kind: transport.KindText, Data: data})
}

// InjectMessage encodes msg and queues it as an inbound text message.
func (c *Conn) InjectMessage(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		panic(err)
	}
	c.InjectText(data)
}

// InjectBinary queues an inbound binary message for the next Read.
func (c *Conn) InjectBinary(data []byte) {
	c.inject(Message{Kind: transport.KindBinary, Data: data})
}

func (c *Conn) inject(msg Message) {
	select {
	case c.inbound <- msg:
	case <-c.closed:
	}
}

// Writes returns a copy of every message written so far, in order.
func (c *Conn) Writes() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.writes))
	copy(out, c.writes)
	return out
}

// TextWrites decodes and returns every written text message, in order.
func (c *Conn) TextWrites() []any {
	var out []any
	for _, w := range c.Writes() {
		if w.Kind != transport.KindText {
			continue
		}
		msg, err := protocol.Decode(w.Data)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// BinaryWrites returns the payloads of every written binary message, in order.
func (c *Conn) BinaryWrites() [][]byte {
	var out [][]byte
	for _, w := range c.Writes() {
		if w.Kind == transport.KindBinary {
			out = append(out, w.Data)
		}
	}
	return out
}

// autoRespond queues scripted acks for recognised outbound messages.
func (c *Conn) autoRespond(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		return
	}

	switch m := msg.(type) {
	case *protocol.Hello:
		if !c.AutoAckHello {
			return
		}
		status := protocol.StatusOK
		if c.RejectHello {
			status = protocol.StatusRejected
		}
		c.InjectMessage(protocol.NewHelloAck(m.SessionID, status))
	case *protocol.RecordingStart:
		if c.AutoAckRecording {
			c.InjectMessage(protocol.NewRecordingStartAck(m.SessionID))
		}
	case *protocol.RecordingEnd:
		if c.AutoAckRecording {
			c.InjectMessage(protocol.NewRecordingEndAck(m.SessionID))
		}
	case *protocol.Heartbeat:
		c.InjectMessage(protocol.NewHeartbeatAck())
	}
}

// Dialer is a mock implementation of [transport.Dialer]. Every Dial mints a
// fresh [Conn] configured from the exported behaviour fields and records it
// in Conns.
type Dialer struct {
	// AutoAckHello configures every minted connection to acknowledge hellos.
	AutoAckHello bool

	// RejectHello configures minted connections to reject hellos.
	RejectHello bool

	// AutoAckRecording configures minted connections to acknowledge
	// recording_start/recording_end.
	AutoAckRecording bool

	// DialError, when non-nil, makes Dial fail without minting a connection.
	DialError error

	// FailFirst makes the first N dials fail with DialError (or a generic
	// error when DialError is nil) before dials start succeeding.
	FailFirst int

	mu        sync.Mutex
	dialCount int
	conns     []*Conn

	// DialCalls records the URLs passed to Dial, in order.
	DialCalls []string
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialCount++
	d.DialCalls = append(d.DialCalls, url)

	if d.FailFirst >= d.dialCount {
		err := d.DialError
		if err == nil {
			err = errors.New("mock: dial refused")
		}
		return nil, err
	}
	if d.DialError != nil && d.FailFirst == 0 {
		return nil, d.DialError
	}

	conn := NewConn()
	conn.AutoAckHello = d.AutoAckHello
	conn.RejectHello = d.RejectHello
	conn.AutoAckRecording = d.AutoAckRecording
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Conns returns every connection minted so far, in dial order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// LastConn returns the most recently minted connection, or nil.
func (d *Dialer) LastConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// DialCount returns how many times Dial was called.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}
