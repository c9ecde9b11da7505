package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocalink/pkg/protocol"
)

// Default lifecycle parameters. All of them can be overridden via [Config];
// none are hardcoded into the state machine.
const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultHeartbeatInterval = 20 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultBackoff           = 1 * time.Second
	defaultMaxBackoff        = 30 * time.Second
	defaultMaxRetries        = 5
)

// ErrClosed is returned by write operations after the manager reached the
// terminal Closed state.
var ErrClosed = errors.New("transport: manager is closed")

// ErrNotReady is returned by write operations when the connection is not in
// a state that can carry messages. Callers drop the frame — streaming audio
// has no meaningful buffering point past a short bound.
var ErrNotReady = errors.New("transport: connection not ready")

// ErrHandshakeTimeout is returned when the backend does not acknowledge the
// hello within the configured window.
var ErrHandshakeTimeout = errors.New("transport: handshake timed out")

// ErrRetriesExhausted is the terminal error surfaced when the reconnect
// attempt budget is spent without re-establishing the connection.
var ErrRetriesExhausted = errors.New("transport: reconnect attempts exhausted")

// Config configures a [Manager].
type Config struct {
	// Dialer establishes the underlying duplex connections. Required.
	Dialer Dialer

	// URL is the backend endpoint passed to the dialer. Required.
	URL string

	// NewHello mints the hello message for each connection attempt. It is
	// called once per dial, including automatic reconnects — a reconnected
	// channel always carries a fresh session, never a resumed one. Required.
	NewHello func() (protocol.Hello, error)

	// OnState is invoked after every state transition with the old state,
	// the new state, and the error that caused it (nil for forward
	// transitions). Called from the manager's goroutines without internal
	// locks held; implementations may call back into the manager. May be nil.
	OnState func(old, next State, err error)

	// OnMessage receives every decoded inbound control message except the
	// heartbeat exchange, which the manager absorbs. May be nil.
	OnMessage func(msg any)

	// HandshakeTimeout bounds the wait for a hello_ack. Default 10s.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the cadence of outbound heartbeats while the
	// connection is Ready or Streaming. Default 20s.
	HeartbeatInterval time.Duration

	// IdleTimeout forces a retryable disconnect when no inbound traffic of
	// any kind arrives within it. Default 60s.
	IdleTimeout time.Duration

	// Backoff is the initial delay between reconnect attempts. Doubles each
	// attempt up to MaxBackoff. Default 1s.
	Backoff time.Duration

	// MaxBackoff caps the reconnect delay. Default 30s.
	MaxBackoff time.Duration

	// MaxRetries bounds consecutive failed reconnect attempts before the
	// manager gives up and transitions to Closed. Default 5.
	MaxRetries int
}

// Manager owns the lifecycle of the duplex channel to the recognition
// backend. It runs the state machine described on [State], sends heartbeats,
// watches for inbound-traffic starvation, and reconnects with exponential
// backoff after retryable failures.
//
// All methods are safe for concurrent use. Lifecycle state must be read via
// [Manager.State]; raw transport state is never exposed.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	state       State
	conn        Conn
	sessionID   string // session id declared in the current hello
	lastInbound time.Time

	// runCtx outlives any Connect caller and is cancelled only on Close (or
	// retry exhaustion). The read, heartbeat, and reconnect loops run on it
	// so a short-lived start context cannot tear down an established channel.
	runCtx    context.Context
	runCancel context.CancelFunc

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when the active conn fails
}

// NewManager creates a [Manager] from cfg. Zero-value tuning fields are
// replaced with defaults; Dialer, URL, and NewHello are required.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("transport: Config.Dialer is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("transport: Config.URL is required")
	}
	if cfg.NewHello == nil {
		return nil, errors.New("transport: Config.NewHello is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:          cfg,
		state:        StateDisconnected,
		runCtx:       runCtx,
		runCancel:    runCancel,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}, nil
}

// Connect dials the backend and performs the hello handshake. On success the
// manager is Ready and its heartbeat and reconnect loops are running. On
// failure the error is returned to the caller and, when the failure is
// retryable, automatic reconnection continues in the background.
//
// ctx bounds only the initial dial and handshake. The background loops are
// tied to the manager itself and keep running until [Manager.Close], so
// callers may cancel ctx as soon as Connect returns.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("transport: connect in state %s", state)
	}
	m.mu.Unlock()

	go m.monitorLoop(m.runCtx)
	go m.heartbeatLoop(m.runCtx)

	if err := m.establish(ctx); err != nil {
		m.signalDisconnect()
		return err
	}
	return nil
}

// State returns the current lifecycle state through the synchronized accessor.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the session id declared in the hello of the current
// connection, or "" when no connection is established.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// WriteJSON encodes msg and sends it as a text message. Valid only in the
// Ready and Streaming states; otherwise [ErrNotReady] is returned and the
// message is dropped.
func (m *Manager) WriteJSON(ctx context.Context, msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return m.write(ctx, KindText, data)
}

// WriteBinary sends one audio frame. Valid only in the Ready and Streaming
// states. The first accepted frame moves the manager from Ready to Streaming.
func (m *Manager) WriteBinary(ctx context.Context, data []byte) error {
	if err := m.write(ctx, KindBinary, data); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == StateReady {
		m.transitionLocked(StateStreaming, nil)
	} else {
		m.mu.Unlock()
	}
	return nil
}

// write hands one message to the current connection. A write error is a
// retryable transport failure and triggers the reconnect machinery.
func (m *Manager) write(ctx context.Context, kind MessageKind, data []byte) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.state.CanSend() || m.conn == nil {
		m.mu.Unlock()
		return ErrNotReady
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.Write(ctx, kind, data); err != nil {
		m.connFailed(conn, fmt.Errorf("transport: write: %w", err))
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close requests graceful teardown. The manager transitions to the terminal
// Closed state and never reconnects. Safe to call multiple times.
func (m *Manager) Close() error {
	var conn Conn
	m.stopOnce.Do(func() {
		m.runCancel()
		close(m.done)

		m.mu.Lock()
		conn = m.conn
		m.conn = nil
		m.transitionLocked(StateClosed, nil)
	})

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// establish performs one dial + handshake cycle. On success the manager is
// Ready with a fresh session id and a running read loop.
func (m *Manager) establish(ctx context.Context) error {
	m.setState(StateConnecting, nil)

	conn, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.setState(StateDisconnected, err)
		return fmt.Errorf("transport: dial %s: %w", m.cfg.URL, err)
	}

	m.setState(StateHandshaking, nil)

	hello, err := m.cfg.NewHello()
	if err != nil {
		conn.Close()
		m.setState(StateDisconnected, err)
		return fmt.Errorf("transport: build hello: %w", err)
	}

	if err := m.handshake(ctx, conn, hello); err != nil {
		conn.Close()
		m.setState(StateDisconnected, err)
		return err
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.sessionID = hello.SessionID
	m.lastInbound = time.Now()
	m.transitionLocked(StateReady, nil)

	go m.readLoop(m.runCtx, conn)
	return nil
}

// handshake sends hello on conn and waits for a matching hello_ack within
// the handshake timeout. Non-ack messages received meanwhile are dropped.
func (m *Manager) handshake(ctx context.Context, conn Conn, hello protocol.Hello) error {
	hsCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	data, err := protocol.Encode(hello)
	if err != nil {
		return err
	}
	if err := conn.Write(hsCtx, KindText, data); err != nil {
		return fmt.Errorf("transport: send hello: %w", err)
	}

	for {
		kind, raw, err := conn.Read(hsCtx)
		if err != nil {
			if hsCtx.Err() != nil && ctx.Err() == nil {
				return ErrHandshakeTimeout
			}
			return fmt.Errorf("transport: await hello_ack: %w", err)
		}
		if kind != KindText {
			continue
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			slog.Warn("dropping undecodable message during handshake", "err", err)
			continue
		}
		ack, ok := msg.(*protocol.HelloAck)
		if !ok {
			slog.Debug("dropping pre-handshake message", "type", fmt.Sprintf("%T", msg))
			continue
		}
		if ack.SessionID != hello.SessionID {
			return fmt.Errorf("transport: hello_ack session mismatch: got %q, want %q",
				ack.SessionID, hello.SessionID)
		}
		if ack.Status != protocol.StatusOK {
			return fmt.Errorf("transport: handshake rejected: status %q", ack.Status)
		}
		return nil
	}
}

// readLoop consumes inbound messages from conn until it fails or the
// manager closes. It absorbs the heartbeat exchange and forwards every
// other control message to the OnMessage callback.
func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		kind, raw, err := conn.Read(ctx)
		if err != nil {
			m.connFailed(conn, fmt.Errorf("transport: read: %w", err))
			return
		}

		m.mu.Lock()
		m.lastInbound = time.Now()
		m.mu.Unlock()

		if kind != KindText {
			slog.Debug("ignoring inbound binary message", "bytes", len(raw))
			continue
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			slog.Warn("dropping undecodable inbound message", "err", err)
			continue
		}

		switch msg.(type) {
		case *protocol.HeartbeatAck:
			continue
		case *protocol.Heartbeat:
			// Backend-initiated keepalive; answer but don't surface.
			_ = m.write(ctx, KindText, mustEncode(protocol.NewHeartbeatAck()))
			continue
		}

		if m.cfg.OnMessage != nil {
			m.cfg.OnMessage(msg)
		}
	}
}

// heartbeatLoop sends heartbeats on a fixed interval while the connection is
// Ready or Streaming, and forces a retryable disconnect when no inbound
// traffic arrived within the idle timeout.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		state := m.state
		conn := m.conn
		idle := time.Since(m.lastInbound)
		m.mu.Unlock()

		if !state.CanSend() || conn == nil {
			continue
		}

		if idle > m.cfg.IdleTimeout {
			m.connFailed(conn, fmt.Errorf("transport: no inbound traffic for %s", idle.Round(time.Second)))
			continue
		}

		if err := conn.Write(ctx, KindText, mustEncode(protocol.NewHeartbeat())); err != nil {
			m.connFailed(conn, fmt.Errorf("transport: heartbeat: %w", err))
		}
	}
}

// monitorLoop waits for disconnect signals and drives reconnection.
func (m *Manager) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-m.disconnected:
			m.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect re-establishes the connection with exponential backoff.
// After MaxRetries consecutive failures the manager transitions to the
// terminal Closed state and surfaces [ErrRetriesExhausted].
func (m *Manager) attemptReconnect(ctx context.Context) {
	backoff := m.cfg.Backoff

	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-time.After(backoff):
		}

		m.mu.Lock()
		if m.state == StateClosed {
			m.mu.Unlock()
			return
		}
		m.transitionLocked(StateReconnecting, nil)

		slog.Info("attempting reconnection",
			"url", m.cfg.URL,
			"attempt", attempt,
			"max_retries", m.cfg.MaxRetries,
			"backoff", backoff,
		)

		err := m.establish(ctx)
		if err == nil {
			slog.Info("reconnection successful", "attempt", attempt, "session_id", m.SessionID())
			return
		}
		slog.Warn("reconnection attempt failed", "attempt", attempt, "err", err)

		backoff *= 2
		if backoff > m.cfg.MaxBackoff {
			backoff = m.cfg.MaxBackoff
		}
	}

	m.stopOnce.Do(func() {
		m.runCancel()
		close(m.done)
	})

	m.mu.Lock()
	m.conn = nil
	m.transitionLocked(StateClosed, ErrRetriesExhausted)
}

// connFailed handles a transport failure on conn. Stale connections (already
// replaced by a reconnect) are ignored so a lingering read loop cannot
// restart the cycle.
func (m *Manager) connFailed(conn Conn, err error) {
	m.mu.Lock()
	if m.conn != conn || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.sessionID = ""
	m.transitionLocked(StateDisconnected, err)

	conn.Close()
	m.signalDisconnect()
}

// signalDisconnect nudges the monitor loop. Safe to call multiple times;
// only the first signal per reconnection cycle has effect.
func (m *Manager) signalDisconnect() {
	select {
	case m.disconnected <- struct{}{}:
	default:
	}
}

// setState transitions while not holding the lock.
func (m *Manager) setState(next State, err error) {
	m.mu.Lock()
	m.transitionLocked(next, err)
}

// transitionLocked records the transition and invokes the OnState callback.
// It must be called with m.mu held and RELEASES the lock before invoking the
// callback, so subscribers can safely call back into the manager.
func (m *Manager) transitionLocked(next State, err error) {
	old := m.state
	if old == StateClosed && next != StateClosed {
		// Closed is terminal.
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()

	if old != next {
		slog.Debug("connection state changed", "from", old, "to", next, "err", err)
		if m.cfg.OnState != nil {
			m.cfg.OnState(old, next, err)
		}
	}
}

// mustEncode encodes a protocol message that cannot fail to marshal.
func mustEncode(msg any) []byte {
	data, err := protocol.Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}
