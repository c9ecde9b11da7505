package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocalink/pkg/protocol"
	"github.com/MrWong99/vocalink/pkg/transport"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// defaultAckTimeout bounds the wait for recording control acks.
const defaultAckTimeout = 10 * time.Second

// Config configures a [Client].
type Config struct {
	// Dialer establishes the underlying duplex connections. Required.
	Dialer transport.Dialer

	// URL is the backend endpoint. Required.
	URL string

	// OnTranscript receives interim and final transcripts. May be nil.
	OnTranscript func(voxtypes.Transcript)

	// OnError receives recoverable remote errors and the terminal error
	// when the connection manager gives up. May be nil.
	OnError func(error)

	// OnStateChange observes connection lifecycle transitions. May be nil.
	OnStateChange func(old, next transport.State, err error)

	// AckTimeout bounds the wait for recording_start/recording_end acks.
	// Default 10s.
	AckTimeout time.Duration

	// Reconnect tunes the connection manager. Zero values use the
	// transport defaults.
	Reconnect ReconnectPolicy
}

// ReconnectPolicy names the connection-recovery knobs so they are visible
// configuration rather than buried constants.
type ReconnectPolicy struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	Backoff           time.Duration
	MaxBackoff        time.Duration
	MaxRetries        int
}

// SessionConfig describes the session requested via [Client.StartSession].
type SessionConfig struct {
	// ID is the session identifier. Empty means a UUID is generated.
	ID string

	// Params is the PCM format the capture engine will produce. The zero
	// value means 16kHz/mono/16-bit.
	Params voxtypes.AudioParams
}

// Client implements the client side of the streaming session protocol. It
// composes the frame sequencer and the connection manager: StartSession
// performs connect + handshake + recording_start, SendFrame transmits
// strictly ordered audio frames, EndUtterance flushes, and Teardown closes.
//
// One Client carries at most one active session at a time; the session and
// its reconnect successors share one connection manager, which is replaced
// on the next StartSession. All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	dispatcher *Dispatcher

	mu            sync.Mutex
	mgr           *transport.Manager
	sess          *Session
	helloIssued   bool // first hello uses the StartSession session; later ones mint fresh
	recording     bool // recording_start acked on the current connection
	resumePending bool // a reconnect hello was minted; re-arm recording on Ready
	startAck      chan struct{}
	endAck        chan struct{}
	finalCh       chan voxtypes.Transcript

	// sendMu serialises frame transmission so commits happen in acceptance
	// order. TryLock semantics: a producer that cannot acquire it drops its
	// frame instead of blocking past its frame period.
	sendMu sync.Mutex
}

// NewClient creates a [Client]. Dialer and URL are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("session: Config.Dialer is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("session: Config.URL is required")
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}

	c := &Client{cfg: cfg}
	c.dispatcher = NewDispatcher(DispatcherCallbacks{
		OnTranscript:       c.handleTranscript,
		OnRecoverableError: c.handleRecoverable,
		OnFatalError:       c.handleFatal,
		OnControlAck:       c.handleControlAck,
	})
	return c, nil
}

// StartSession opens a recognition session: it constructs the [Session],
// connects and handshakes through a fresh connection manager, and performs
// the recording_start exchange. Returns [ErrAlreadyActive] if a session is
// already open.
func (c *Client) StartSession(ctx context.Context, sc SessionConfig) error {
	params := sc.Params
	if params == (voxtypes.AudioParams{}) {
		params = voxtypes.DefaultAudioParams()
	}

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	sess := newSession(sc.ID, params)
	c.sess = sess
	c.helloIssued = false
	c.recording = false
	c.resumePending = false
	c.finalCh = make(chan voxtypes.Transcript, 1)

	mgr, err := transport.NewManager(transport.Config{
		Dialer:            c.cfg.Dialer,
		URL:               c.cfg.URL,
		NewHello:          c.nextHello,
		OnState:           c.handleState,
		OnMessage:         c.dispatcher.Dispatch,
		HandshakeTimeout:  c.cfg.Reconnect.HandshakeTimeout,
		HeartbeatInterval: c.cfg.Reconnect.HeartbeatInterval,
		IdleTimeout:       c.cfg.Reconnect.IdleTimeout,
		Backoff:           c.cfg.Reconnect.Backoff,
		MaxBackoff:        c.cfg.Reconnect.MaxBackoff,
		MaxRetries:        c.cfg.Reconnect.MaxRetries,
	})
	if err != nil {
		c.sess = nil
		c.mu.Unlock()
		return err
	}
	c.mgr = mgr
	c.mu.Unlock()

	c.dispatcher.OpenWindow(sess.ID)

	if err := mgr.Connect(ctx); err != nil {
		c.Teardown()
		return fmt.Errorf("session: start: %w", err)
	}

	if err := c.startRecording(ctx, sess.ID); err != nil {
		c.Teardown()
		return err
	}

	slog.Info("session started", "session_id", sess.ID,
		"sample_rate", params.SampleRate, "channels", params.Channels)
	return nil
}

// SendFrame transmits one audio frame for the active session. Valid only
// while the connection is Ready or Streaming and recording is acknowledged;
// otherwise the frame is dropped with [ErrNotReady]. endOfUtterance marks
// the last chunk: after it is committed, the recording_end exchange runs.
//
// SendFrame never blocks the caller on a concurrent in-flight send — the
// later frame is dropped instead, preserving the live cadence.
func (c *Client) SendFrame(ctx context.Context, payload []byte, endOfUtterance bool) error {
	c.mu.Lock()
	sess := c.sess
	mgr := c.mgr
	recording := c.recording
	c.mu.Unlock()

	if sess == nil || mgr == nil {
		return ErrNoSession
	}
	if !recording || !mgr.State().CanSend() {
		return ErrNotReady
	}

	if !c.sendMu.TryLock() {
		// A send is already in flight; dropping keeps the producer live.
		return ErrNotReady
	}
	defer c.sendMu.Unlock()

	seq := sess.seq.Next()
	frame := protocol.EncodeFrame(seq, payload)

	if err := mgr.WriteBinary(ctx, frame); err != nil {
		// The sequence number is not consumed; the next frame retries it.
		if errors.Is(err, transport.ErrNotReady) || errors.Is(err, transport.ErrClosed) {
			return ErrNotReady
		}
		return fmt.Errorf("session: send frame %d: %w", seq, err)
	}
	if err := sess.seq.Commit(seq); err != nil {
		// Cannot happen while sendMu is held; if it does, the stream is
		// corrupt as far as the remote is concerned.
		return fmt.Errorf("session: %w", err)
	}

	if endOfUtterance {
		return c.EndUtterance(ctx)
	}
	return nil
}

// EndUtterance sends the explicit end-of-utterance marker and waits for its
// ack, signalling the backend to flush and finalise. The final transcript
// arrives asynchronously via the transcript callback (or [Client.AwaitFinal]).
func (c *Client) EndUtterance(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	mgr := c.mgr
	if sess == nil || mgr == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.recording = false
	ack := make(chan struct{}, 1)
	c.endAck = ack
	c.mu.Unlock()

	if err := mgr.WriteJSON(ctx, protocol.NewRecordingEnd(sess.ID)); err != nil {
		return fmt.Errorf("session: end utterance: %w", err)
	}
	return c.awaitAck(ctx, ack, "recording_end")
}

// AwaitFinal blocks until the final transcript for the active session
// arrives, ctx expires, or the session ends. Used by gesture control to
// bound the Committing phase.
func (c *Client) AwaitFinal(ctx context.Context) (voxtypes.Transcript, error) {
	c.mu.Lock()
	ch := c.finalCh
	c.mu.Unlock()
	if ch == nil {
		return voxtypes.Transcript{}, ErrNoSession
	}

	select {
	case t, ok := <-ch:
		if !ok {
			return voxtypes.Transcript{}, ErrNoSession
		}
		return t, nil
	case <-ctx.Done():
		return voxtypes.Transcript{}, ErrFinalTimeout
	}
}

// Teardown closes the session and its connection. Any transcript still in
// flight is discarded; tearing down an idle client is a no-op.
func (c *Client) Teardown() {
	c.mu.Lock()
	mgr := c.mgr
	sess := c.sess
	c.mgr = nil
	c.sess = nil
	c.recording = false
	c.resumePending = false
	finalCh := c.finalCh
	c.finalCh = nil
	c.mu.Unlock()

	c.dispatcher.CloseWindow()
	if finalCh != nil {
		close(finalCh)
	}
	if mgr != nil {
		_ = mgr.Close()
	}
	if sess != nil {
		slog.Info("session torn down", "session_id", sess.ID)
	}
}

// Active reports whether a session is currently open.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// SessionID returns the active session id, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.ID
}

// SetReconnectPolicy replaces the reconnect tuning used by subsequent
// sessions, for configuration hot reload. The active session's connection
// manager keeps the policy it was created with.
func (c *Client) SetReconnectPolicy(p ReconnectPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Reconnect = p
}

// State returns the connection lifecycle state.
func (c *Client) State() transport.State {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	if mgr == nil {
		return transport.StateDisconnected
	}
	return mgr.State()
}

// startRecording performs the recording_start exchange. Audio frames must
// not be sent before the ack arrives.
func (c *Client) startRecording(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	mgr := c.mgr
	ack := make(chan struct{}, 1)
	c.startAck = ack
	c.mu.Unlock()
	if mgr == nil {
		return ErrNoSession
	}

	if err := mgr.WriteJSON(ctx, protocol.NewRecordingStart(sessionID)); err != nil {
		return fmt.Errorf("session: recording_start: %w", err)
	}
	if err := c.awaitAck(ctx, ack, "recording_start"); err != nil {
		return err
	}

	c.mu.Lock()
	c.recording = true
	c.mu.Unlock()
	return nil
}

// awaitAck waits for a control ack within the configured timeout.
func (c *Client) awaitAck(ctx context.Context, ack <-chan struct{}, what string) error {
	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-ack:
		return nil
	case <-timer.C:
		return fmt.Errorf("session: %s: %w", what, ErrAckTimeout)
	case <-ctx.Done():
		return fmt.Errorf("session: %s: %w", what, ctx.Err())
	}
}

// nextHello mints the hello for each connection attempt. The first attempt
// uses the session created by StartSession; every later attempt belongs to a
// reconnect and opens a FRESH session with its sequence space reset to 1 —
// the old sequence is never resumed.
func (c *Client) nextHello() (protocol.Hello, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return protocol.Hello{}, ErrNoSession
	}
	if c.helloIssued {
		old := c.sess.ID
		c.sess = newSession("", c.sess.Params)
		c.recording = false
		c.resumePending = true
		c.dispatcher.OpenWindow(c.sess.ID)
		slog.Info("minting fresh session for reconnect", "old_session_id", old, "session_id", c.sess.ID)
	}
	c.helloIssued = true
	return protocol.NewHello(c.sess.ID, c.sess.wireParams()), nil
}

// handleState forwards connection transitions and resumes recording after a
// silent reconnect: the fresh session needs its own recording_start exchange
// before frames may flow again.
func (c *Client) handleState(old, next transport.State, err error) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(old, next, err)
	}

	switch next {
	case transport.StateReady:
		c.mu.Lock()
		resume := c.sess != nil && c.resumePending
		sessionID := ""
		if resume {
			c.resumePending = false
			sessionID = c.sess.ID
		}
		c.mu.Unlock()

		if resume {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AckTimeout)
				defer cancel()
				if startErr := c.startRecording(ctx, sessionID); startErr != nil {
					slog.Warn("failed to resume recording after reconnect", "err", startErr)
				}
			}()
		}
	case transport.StateClosed:
		if err != nil {
			// Terminal: the reconnect budget is exhausted.
			c.surfaceError(fmt.Errorf("session: connection lost: %w", err))
			c.Teardown()
		}
	}
}

// handleTranscript forwards transcripts and latches the final one for
// AwaitFinal waiters.
func (c *Client) handleTranscript(t voxtypes.Transcript) {
	if c.cfg.OnTranscript != nil {
		c.cfg.OnTranscript(t)
	}
	if !t.IsFinal {
		return
	}
	c.mu.Lock()
	ch := c.finalCh
	c.mu.Unlock()
	if ch != nil {
		select {
		case ch <- t:
		default:
		}
	}
}

// handleRecoverable surfaces application-level errors without touching the
// session lifecycle.
func (c *Client) handleRecoverable(re *RemoteError) {
	c.surfaceError(re)
}

// handleFatal tears the session down on protocol-fatal errors. Sequence
// violations are never resynchronised — the session restarts fresh.
func (c *Client) handleFatal(re *RemoteError) {
	c.surfaceError(re)
	c.Teardown()
}

// handleControlAck signals whichever exchange is waiting.
func (c *Client) handleControlAck(msg any) {
	c.mu.Lock()
	var ch chan struct{}
	switch msg.(type) {
	case *protocol.RecordingStartAck:
		ch = c.startAck
		c.startAck = nil
	case *protocol.RecordingEndAck:
		ch = c.endAck
		c.endAck = nil
	}
	c.mu.Unlock()

	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Client) surfaceError(err error) {
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}
