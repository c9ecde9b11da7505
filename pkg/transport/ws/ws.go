// Package ws provides the production WebSocket implementation of the
// [transport.Dialer] and [transport.Conn] interfaces, built on
// github.com/coder/websocket.
package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalink/pkg/transport"
)

// defaultReadLimit bounds inbound message size. Control messages are small;
// the limit mainly protects against a misbehaving backend.
const defaultReadLimit = 10 * 1024 * 1024

// Option is a functional option for configuring the [Dialer].
type Option func(*Dialer)

// WithHTTPHeader sets extra HTTP headers sent during the WebSocket upgrade
// (e.g., an Authorization header).
func WithHTTPHeader(header http.Header) Option {
	return func(d *Dialer) {
		d.header = header
	}
}

// WithReadLimit overrides the maximum inbound message size in bytes.
func WithReadLimit(limit int64) Option {
	return func(d *Dialer) {
		d.readLimit = limit
	}
}

// Dialer implements [transport.Dialer] over WebSockets.
type Dialer struct {
	header    http.Header
	readLimit int64
}

// NewDialer creates a WebSocket [Dialer].
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{readLimit: defaultReadLimit}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [transport.Dialer]. Compression is disabled — audio frames
// are small, latency-sensitive, and already low-entropy PCM.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:      d.header,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	c.SetReadLimit(d.readLimit)
	return &conn{ws: c}, nil
}

// conn adapts a *websocket.Conn to [transport.Conn].
type conn struct {
	ws *websocket.Conn
}

// Read implements [transport.Conn].
func (c *conn) Read(ctx context.Context) (transport.MessageKind, []byte, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("ws: read: %w", err)
	}
	return toKind(typ), data, nil
}

// Write implements [transport.Conn].
func (c *conn) Write(ctx context.Context, kind transport.MessageKind, data []byte) error {
	typ := websocket.MessageText
	if kind == transport.KindBinary {
		typ = websocket.MessageBinary
	}
	if err := c.ws.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Close implements [transport.Conn].
func (c *conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "teardown")
}

func toKind(typ websocket.MessageType) transport.MessageKind {
	if typ == websocket.MessageBinary {
		return transport.KindBinary
	}
	return transport.KindText
}
