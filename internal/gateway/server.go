package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalink/internal/observe"
	"github.com/MrWong99/vocalink/internal/resilience"
	"github.com/MrWong99/vocalink/pkg/protocol"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// readLimit bounds inbound message size. One audio frame at 16kHz/16-bit
// mono is under 1KB; the limit mainly protects against a misbehaving client.
const readLimit = 10 * 1024 * 1024

// TranscriptLog receives every final transcript the gateway produces.
// [transcriptstore.Store] satisfies it; gateway tests use an in-memory fake.
type TranscriptLog interface {
	Append(ctx context.Context, t voxtypes.Transcript) error
}

// Config configures a [Server].
type Config struct {
	// Recognizer handles session audio. Required.
	Recognizer Recognizer

	// Transcripts, when non-nil, receives every final transcript.
	// Append failures are logged, never surfaced to the client.
	Transcripts TranscriptLog

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Breaker tunes the circuit breaker guarding recognizer stream creation.
	// Zero-value fields use the resilience package defaults.
	Breaker resilience.CircuitBreakerConfig
}

// Server accepts WebSocket connections speaking the Vocalink session
// protocol. Each connection carries exactly one session: the first message
// must be a hello, audio frames must arrive with strictly increasing
// sequence numbers starting at 1, and any sequencing violation terminates
// the session with a fatal error message.
//
// Server implements [http.Handler]; mount it on the route clients dial.
type Server struct {
	recognizer  Recognizer
	transcripts TranscriptLog
	metrics     *observe.Metrics
	breaker     *resilience.CircuitBreaker
}

// NewServer creates a gateway server from cfg.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("gateway: config requires a Recognizer")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "recognizer"
	}
	return &Server{
		recognizer:  cfg.Recognizer,
		transcripts: cfg.Transcripts,
		metrics:     cfg.Metrics,
		breaker:     resilience.NewCircuitBreaker(cfg.Breaker),
	}, nil
}

// ServeHTTP upgrades the request to a WebSocket and runs the session loop
// until the client disconnects or a fatal protocol violation occurs.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		slog.Warn("gateway: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)
	defer conn.Close(websocket.StatusInternalError, "session over")

	sess := &wsSession{server: s, conn: conn, nextSeq: 1}
	sess.run(r.Context())
}

// wsSession is the per-connection protocol state machine.
type wsSession struct {
	server *Server
	conn   *websocket.Conn

	// writeMu serialises writes: recognizer emit callbacks may fire from a
	// different goroutine than the read loop.
	writeMu sync.Mutex

	id      string
	params  voxtypes.AudioParams
	nextSeq uint32

	stream Stream // non-nil while recording
}

func (w *wsSession) run(ctx context.Context) {
	if !w.handshake(ctx) {
		return
	}

	w.server.metrics.ActiveSessions.Add(ctx, 1)
	defer w.server.metrics.ActiveSessions.Add(ctx, -1)
	defer w.closeStream()

	slog.Info("gateway: session established", "session_id", w.id, "sample_rate", w.params.SampleRate)

	for {
		typ, data, err := w.conn.Read(ctx)
		if err != nil {
			slog.Debug("gateway: session ended", "session_id", w.id, "err", err)
			return
		}

		ok := true
		switch typ {
		case websocket.MessageText:
			ok = w.handleControl(ctx, data)
		case websocket.MessageBinary:
			ok = w.handleFrame(ctx, data)
		}
		if !ok {
			return
		}
	}
}

// handshake reads and answers the opening hello. It reports whether the
// session may proceed.
func (w *wsSession) handshake(ctx context.Context) bool {
	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		return false
	}
	if typ != websocket.MessageText {
		w.fatal(ctx, "", protocol.CodeMalformedMessage, "expected hello, got binary frame")
		return false
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		w.fatal(ctx, "", protocol.CodeMalformedMessage, err.Error())
		return false
	}
	hello, isHello := msg.(*protocol.Hello)
	if !isHello {
		w.fatal(ctx, "", protocol.CodeMalformedMessage, fmt.Sprintf("expected hello, got %T", msg))
		return false
	}

	if reason := validateHello(hello); reason != "" {
		slog.Warn("gateway: rejecting hello", "session_id", hello.SessionID, "reason", reason)
		w.send(ctx, protocol.NewHelloAck(hello.SessionID, protocol.StatusRejected))
		w.conn.Close(websocket.StatusPolicyViolation, reason)
		return false
	}

	w.id = hello.SessionID
	w.params = voxtypes.AudioParams{
		Format:        hello.AudioParams.Format,
		SampleRate:    hello.AudioParams.SampleRate,
		Channels:      hello.AudioParams.Channels,
		BitsPerSample: hello.AudioParams.BitsPerSample,
	}
	return w.send(ctx, protocol.NewHelloAck(hello.SessionID, protocol.StatusOK))
}

// validateHello returns a rejection reason, or "" when the hello is acceptable.
func validateHello(h *protocol.Hello) string {
	switch {
	case h.SessionID == "":
		return "hello missing session_id"
	case h.Version != protocol.Version:
		return fmt.Sprintf("unsupported protocol version %d", h.Version)
	case h.AudioParams.Format != "pcm":
		return fmt.Sprintf("unsupported audio format %q", h.AudioParams.Format)
	case h.AudioParams.BitsPerSample != 16:
		return fmt.Sprintf("unsupported bit depth %d", h.AudioParams.BitsPerSample)
	default:
		return ""
	}
}

// handleControl processes one inbound text message. It reports whether the
// session should continue.
func (w *wsSession) handleControl(ctx context.Context, data []byte) bool {
	msg, err := protocol.Decode(data)
	if err != nil {
		return w.fatal(ctx, w.id, protocol.CodeMalformedMessage, err.Error())
	}

	switch m := msg.(type) {
	case *protocol.Heartbeat:
		return w.send(ctx, protocol.NewHeartbeatAck())

	case *protocol.RecordingStart:
		if m.SessionID != w.id {
			return w.fatal(ctx, w.id, protocol.CodeSessionUnknown, fmt.Sprintf("recording_start for unknown session %s", m.SessionID))
		}
		if w.stream != nil {
			return w.fatal(ctx, w.id, protocol.CodeMalformedMessage, "recording_start while already recording")
		}
		var stream Stream
		err := w.server.breaker.Execute(func() error {
			var err error
			stream, err = w.server.recognizer.NewStream(ctx, w.id, w.params, w.emit)
			return err
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			// The recognizer is in a failure loop; let the client retry
			// without tearing the session down.
			w.send(ctx, protocol.NewError(w.id, protocol.CodeRecognizerBusy, "recognizer unavailable, retry later"))
			return true
		}
		if err != nil {
			slog.Error("gateway: recognizer stream failed", "session_id", w.id, "err", err)
			return w.fatal(ctx, w.id, protocol.CodeRecognizerBusy, "recognizer unavailable")
		}
		w.stream = stream
		return w.send(ctx, protocol.NewRecordingStartAck(w.id))

	case *protocol.RecordingEnd:
		if m.SessionID != w.id {
			return w.fatal(ctx, w.id, protocol.CodeSessionUnknown, fmt.Sprintf("recording_end for unknown session %s", m.SessionID))
		}
		if w.stream == nil {
			w.send(ctx, protocol.NewError(w.id, protocol.CodeDecodeWarning, "recording_end while not recording"))
			return true
		}
		if err := w.stream.Finish(ctx); err != nil {
			slog.Error("gateway: recognizer finish failed", "session_id", w.id, "err", err)
		}
		w.closeStream()
		return w.send(ctx, protocol.NewRecordingEndAck(w.id))

	case *protocol.Hello:
		return w.fatal(ctx, w.id, protocol.CodeMalformedMessage, "duplicate hello")

	case *protocol.Unknown:
		slog.Debug("gateway: ignoring unknown message", "session_id", w.id, "type", m.MessageType)
		return true

	default:
		slog.Debug("gateway: ignoring unexpected message", "session_id", w.id, "type", fmt.Sprintf("%T", m))
		return true
	}
}

// handleFrame processes one inbound binary audio frame, enforcing the strict
// per-session sequence contract.
func (w *wsSession) handleFrame(ctx context.Context, data []byte) bool {
	seq, payload, err := protocol.DecodeFrame(data)
	if err != nil {
		w.send(ctx, protocol.NewError(w.id, protocol.CodeDecodeWarning, err.Error()))
		return true
	}

	if seq != w.nextSeq {
		return w.fatal(ctx, w.id, protocol.CodeSequenceViolation,
			fmt.Sprintf("expected frame %d, got %d", w.nextSeq, seq))
	}
	w.nextSeq++

	if w.stream == nil {
		w.send(ctx, protocol.NewError(w.id, protocol.CodeDecodeWarning, "audio frame outside recording"))
		return true
	}
	if err := w.stream.Write(ctx, payload); err != nil {
		slog.Warn("gateway: recognizer write failed", "session_id", w.id, "seq", seq, "err", err)
		w.send(ctx, protocol.NewError(w.id, protocol.CodeRecognizerBusy, "recognizer dropped audio"))
	}
	return true
}

// emit relays one recognition result to the client and, for finals, to the
// transcript log. It is handed to the recognizer and may run on any goroutine.
func (w *wsSession) emit(t voxtypes.Transcript) {
	ctx := context.Background()
	w.server.metrics.RecordTranscript(ctx, t.IsFinal)
	w.send(ctx, protocol.NewSTTResult(t.SessionID, t.Text, t.IsFinal, t.Confidence))

	if t.IsFinal && w.server.transcripts != nil {
		if err := w.server.transcripts.Append(ctx, t); err != nil {
			slog.Error("gateway: transcript append failed", "session_id", t.SessionID, "err", err)
		}
	}
}

// closeStream releases the active recognizer stream, if any.
func (w *wsSession) closeStream() {
	if w.stream == nil {
		return
	}
	if err := w.stream.Close(); err != nil {
		slog.Warn("gateway: recognizer close failed", "session_id", w.id, "err", err)
	}
	w.stream = nil
}

// send marshals and writes one control message. It reports whether the write
// succeeded; a failed write means the connection is gone.
func (w *wsSession) send(ctx context.Context, msg any) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("gateway: encode failed", "session_id", w.id, "err", err)
		return false
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("gateway: write failed", "session_id", w.id, "err", err)
		return false
	}
	return true
}

// fatal sends a fatal error message and closes the connection. It always
// returns false so callers can `return w.fatal(...)`.
func (w *wsSession) fatal(ctx context.Context, sessionID string, code int, message string) bool {
	slog.Warn("gateway: fatal protocol violation", "session_id", sessionID, "code", code, "reason", message)
	w.send(ctx, protocol.NewError(sessionID, code, message))
	w.conn.Close(websocket.StatusPolicyViolation, message)
	return false
}
