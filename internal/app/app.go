// Package app wires the Vocalink client subsystems into a running
// application: the capture engine feeds the session protocol client, gated by
// the gesture controller, with configuration hot reload on top.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run blocks until the context is cancelled and tears everything
// down. For testing, inject doubles via functional options (WithDialer,
// WithProducer, WithClock).
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocalink/internal/config"
	"github.com/MrWong99/vocalink/internal/observe"
	"github.com/MrWong99/vocalink/pkg/capture"
	"github.com/MrWong99/vocalink/pkg/gesture"
	"github.com/MrWong99/vocalink/pkg/session"
	"github.com/MrWong99/vocalink/pkg/transport"
	"github.com/MrWong99/vocalink/pkg/transport/ws"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// App owns all client subsystem lifetimes.
type App struct {
	cfg    *config.Config
	source io.Reader

	// Injected via options; defaulted in New.
	dialer       transport.Dialer
	producer     capture.Producer
	clock        gesture.Clock
	metrics      *observe.Metrics
	level        *slog.LevelVar
	onTranscript func(voxtypes.Transcript)
	configPath   string

	client     *session.Client
	controller *gesture.Controller

	// stopOnce guards the teardown path at the end of Run.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects a transport dialer instead of the default WebSocket one.
func WithDialer(d transport.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithProducer injects a frame producer instead of building a capture engine
// from the config and source. Wire the producer's frames to [App.HandleFrame].
func WithProducer(p capture.Producer) Option {
	return func(a *App) { a.producer = p }
}

// WithClock replaces the gesture controller's wall clock, for tests.
func WithClock(clk gesture.Clock) Option {
	return func(a *App) { a.clock = clk }
}

// WithLogLevel hands the app the level var backing the process logger so
// configuration hot reload can adjust verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithTranscriptHandler registers the consumer for interim and final
// transcripts. It runs on session callback goroutines and must not block.
func WithTranscriptHandler(f func(voxtypes.Transcript)) Option {
	return func(a *App) { a.onTranscript = f }
}

// WithConfigFile enables hot reload: Run watches path and applies gesture
// tuning, reconnect policy, and log level changes without a restart.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithMetrics injects a metrics bundle instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: the protocol client
// over the configured backend URL, the gesture controller driving it, and the
// capture engine reading PCM from source.
func New(cfg *config.Config, source io.Reader, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}

	a := &App{cfg: cfg, source: source}
	for _, o := range opts {
		o(a)
	}
	if a.dialer == nil {
		a.dialer = ws.NewDialer()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session protocol client ───────────────────────────────────────
	client, err := session.NewClient(session.Config{
		Dialer:        a.dialer,
		URL:           cfg.Server.URL,
		OnTranscript:  a.handleTranscript,
		OnError:       a.handleSessionError,
		OnStateChange: a.handleStateChange,
		AckTimeout:    cfg.Reconnect.AckTimeout(),
		Reconnect:     reconnectPolicy(cfg.Reconnect),
	})
	if err != nil {
		return nil, fmt.Errorf("app: init client: %w", err)
	}
	a.client = client

	// ── 2. Gesture controller ────────────────────────────────────────────
	ctrlOpts := gestureOptions(cfg.Gesture)
	if a.clock != nil {
		ctrlOpts = append(ctrlOpts, gesture.WithClock(a.clock))
	}
	controller, err := gesture.NewController(
		&clientDriver{client: client, params: cfg.Audio.Params()},
		gesture.Callbacks{
			OnStarted:   func() { slog.Info("recording started") },
			OnCommitted: a.handleCommitted,
			OnCancelled: func() { slog.Info("utterance cancelled") },
			OnFailed:    func(err error) { slog.Warn("interaction failed", "err", err) },
		},
		ctrlOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("app: init gesture controller: %w", err)
	}
	a.controller = controller

	// ── 3. Capture engine ────────────────────────────────────────────────
	if a.producer == nil {
		engine, err := capture.New(source, cfg.Audio.Params(), a.HandleFrame,
			capture.WithFrameDuration(cfg.Audio.FrameDuration()))
		if err != nil {
			return nil, fmt.Errorf("app: init capture: %w", err)
		}
		a.producer = engine
	}

	return a, nil
}

// Controller exposes the gesture state machine so the frontend can feed
// pointer and click events into it.
func (a *App) Controller() *gesture.Controller { return a.controller }

// Client exposes the session protocol client, mainly for inspection.
func (a *App) Client() *session.Client { return a.client }

// Run starts frame production and, when configured, the config watcher, then
// blocks until ctx is cancelled. On return all subsystems are torn down and
// ctx's error is returned.
func (a *App) Run(ctx context.Context) error {
	if a.configPath != "" {
		watcher, err := config.NewWatcher(a.configPath, a.applyConfigChange)
		if err != nil {
			return fmt.Errorf("app: start config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	if err := a.producer.Start(ctx); err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}

	slog.Info("app running",
		"server", a.cfg.Server.URL,
		"gesture_mode", a.cfg.Gesture.Mode,
		"sample_rate", a.cfg.Audio.Params().SampleRate)

	<-ctx.Done()
	a.teardown()
	return ctx.Err()
}

// HandleFrame forwards one captured frame to the active session. Outside a
// recording phase the frame is discarded silently — capture runs all the
// time, the gesture decides what is speech.
func (a *App) HandleFrame(frame voxtypes.Frame) {
	if !a.controller.Recording() {
		return
	}

	start := time.Now()
	err := a.client.SendFrame(context.Background(), frame.Data, false)
	switch {
	case err == nil:
		a.metrics.RecordFrameSent(context.Background(), time.Since(start).Seconds())
	case errors.Is(err, session.ErrNotReady):
		a.metrics.RecordFrameDropped(context.Background(), "not_ready")
	case errors.Is(err, session.ErrNoSession):
		a.metrics.RecordFrameDropped(context.Background(), "no_session")
	default:
		a.metrics.RecordFrameDropped(context.Background(), "send_failed")
		slog.Warn("frame send failed", "err", err)
	}
}

// teardown stops frame production and closes any live session.
func (a *App) teardown() {
	a.stopOnce.Do(func() {
		a.producer.Stop()
		a.client.Teardown()
		slog.Info("app stopped")
	})
}

// ─── Callbacks ───────────────────────────────────────────────────────────────

func (a *App) handleTranscript(t voxtypes.Transcript) {
	a.metrics.RecordTranscript(context.Background(), t.IsFinal)
	if a.onTranscript != nil {
		a.onTranscript(t)
	}
}

func (a *App) handleCommitted(t voxtypes.Transcript) {
	slog.Info("utterance committed", "session_id", t.SessionID, "confidence", t.Confidence)
}

func (a *App) handleSessionError(err error) {
	var remote *session.RemoteError
	if errors.As(err, &remote) {
		a.metrics.RecordRemoteError(context.Background(), remote.Fatal())
	}
	slog.Warn("session error", "err", err)
}

func (a *App) handleStateChange(old, next transport.State, err error) {
	if next == transport.StateReconnecting {
		a.metrics.RecordReconnect(context.Background(), "attempt")
	}
	if old == transport.StateReconnecting && next == transport.StateReady {
		a.metrics.RecordReconnect(context.Background(), "success")
	}
}

// applyConfigChange is the watcher callback. Only the hot-reloadable sections
// are applied; everything else needs a restart.
func (a *App) applyConfigChange(old, next *config.Config) {
	d := config.Diff(old, next)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GestureChanged {
		a.controller.Retune(gestureOptions(d.NewGesture)...)
		slog.Info("gesture tuning changed",
			"mode", d.NewGesture.Mode,
			"hold_threshold", d.NewGesture.HoldThreshold())
	}
	if d.ReconnectChanged {
		a.client.SetReconnectPolicy(reconnectPolicy(d.NewReconnect))
		slog.Info("reconnect policy changed", "max_retries", d.NewReconnect.MaxRetries)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// clientDriver adapts [session.Client] to the [gesture.SessionDriver] slice
// the controller needs.
type clientDriver struct {
	client *session.Client
	params voxtypes.AudioParams
}

func (d *clientDriver) StartSession(ctx context.Context) error {
	return d.client.StartSession(ctx, session.SessionConfig{Params: d.params})
}

func (d *clientDriver) EndUtterance(ctx context.Context) error {
	return d.client.EndUtterance(ctx)
}

func (d *clientDriver) AwaitFinal(ctx context.Context) (voxtypes.Transcript, error) {
	return d.client.AwaitFinal(ctx)
}

func (d *clientDriver) Teardown() {
	d.client.Teardown()
}

// gestureOptions converts the gesture config section into controller options.
func gestureOptions(gc config.GestureConfig) []gesture.Option {
	mode := gesture.ModeHold
	if gc.Mode == config.GestureClick {
		mode = gesture.ModeClick
	}
	opts := []gesture.Option{
		gesture.WithMode(mode),
		gesture.WithHoldThreshold(gc.HoldThreshold()),
		gesture.WithFinalWait(gc.FinalWait()),
	}
	if gc.CancelDistance > 0 {
		opts = append(opts, gesture.WithCancelDistance(gc.CancelDistance))
	}
	return opts
}

// reconnectPolicy converts the reconnect config section into the client's
// policy type. Zero values mean "use the transport default" on both sides.
func reconnectPolicy(rc config.ReconnectConfig) session.ReconnectPolicy {
	return session.ReconnectPolicy{
		HandshakeTimeout:  rc.HandshakeTimeout(),
		HeartbeatInterval: rc.HeartbeatInterval(),
		IdleTimeout:       rc.IdleTimeout(),
		Backoff:           rc.InitialBackoff(),
		MaxBackoff:        rc.MaxBackoff(),
		MaxRetries:        rc.MaxRetries,
	}
}

// slogLevel maps a config log level onto slog's scale.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
