// Package gesture maps raw pointer/touch events to recording commands.
//
// The [Controller] is a five-phase state machine: Idle, ArmedPendingHold,
// Recording, CancelPending and Committing. In hold mode a pointer must stay
// down past the hold threshold before recording starts; dragging past the
// cancel distance while recording arms a reversible cancel, and releasing in
// the cancel zone discards the utterance without delivering a transcript. In
// click mode the first click starts recording immediately and the second
// commits. Both modes share the Recording and Committing phases, so result
// handling is the same regardless of modality.
package gesture

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// Phase is the current interaction phase.
type Phase int

const (
	// PhaseIdle means no interaction is in progress.
	PhaseIdle Phase = iota

	// PhaseArmedPendingHold means the pointer is down and the hold timer is
	// running; recording has not started yet.
	PhaseArmedPendingHold

	// PhaseRecording means a session is live and audio frames may flow.
	PhaseRecording

	// PhaseCancelPending means the pointer dragged into the cancel zone while
	// recording; releasing now discards the utterance. Dragging back out
	// returns to Recording.
	PhaseCancelPending

	// PhaseCommitting means the utterance ended and the controller is waiting
	// for the final transcript (or its timeout).
	PhaseCommitting
)

// String implements [fmt.Stringer].
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseArmedPendingHold:
		return "ArmedPendingHold"
	case PhaseRecording:
		return "Recording"
	case PhaseCancelPending:
		return "CancelPending"
	case PhaseCommitting:
		return "Committing"
	default:
		return "Unknown"
	}
}

// Mode selects the interaction style.
type Mode int

const (
	// ModeHold is press-and-hold with swipe-to-cancel.
	ModeHold Mode = iota

	// ModeClick toggles recording with single clicks: first click starts,
	// second click commits.
	ModeClick
)

// String implements [fmt.Stringer].
func (m Mode) String() string {
	switch m {
	case ModeHold:
		return "Hold"
	case ModeClick:
		return "Click"
	default:
		return "Unknown"
	}
}

// SessionDriver is the slice of the session client the controller drives.
// The controller never sees transport details; failures reach it only as
// errors from these calls.
type SessionDriver interface {
	// StartSession opens a recognition session.
	StartSession(ctx context.Context) error

	// EndUtterance sends the end-of-utterance marker.
	EndUtterance(ctx context.Context) error

	// AwaitFinal blocks until the final transcript arrives or ctx expires.
	AwaitFinal(ctx context.Context) (voxtypes.Transcript, error)

	// Teardown closes the session, discarding any transcript in flight.
	Teardown()
}

// Callbacks notify the application of interaction outcomes. All fields are
// optional. Callbacks run on controller goroutines and must not block.
type Callbacks struct {
	// OnStarted fires when recording begins (session established).
	OnStarted func()

	// OnCommitted fires with the final transcript of a committed utterance.
	OnCommitted func(voxtypes.Transcript)

	// OnCancelled fires when an utterance is discarded by the cancel gesture
	// or a system cancel. No transcript is delivered.
	OnCancelled func()

	// OnFailed fires when a session operation fails; the interaction is
	// abandoned and the controller returns to Idle.
	OnFailed func(error)
}

// Defaults for the tuning options.
const (
	DefaultHoldThreshold  = 500 * time.Millisecond
	DefaultCancelDistance = 80.0
	DefaultStartTimeout   = 10 * time.Second
	DefaultFinalWait      = 5 * time.Second
)

// Option customises a [Controller].
type Option func(*Controller)

// WithMode selects the interaction mode. Default [ModeHold].
func WithMode(m Mode) Option {
	return func(c *Controller) { c.mode = m }
}

// WithHoldThreshold sets how long the pointer must stay down before
// recording starts. Default 500ms.
func WithHoldThreshold(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.holdThreshold = d
		}
	}
}

// WithCancelDistance sets the drag displacement that arms the cancel
// gesture, in the pointer's coordinate units. Default 80.
func WithCancelDistance(px float64) Option {
	return func(c *Controller) {
		if px > 0 {
			c.cancelDistance = px
		}
	}
}

// WithStartTimeout bounds the session establishment triggered by a gesture.
// Default 10s.
func WithStartTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.startTimeout = d
		}
	}
}

// WithFinalWait bounds how long Committing waits for the final transcript.
// Default 5s.
func WithFinalWait(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.finalWait = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(clk Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Controller is the gesture state machine. All methods are safe for
// concurrent use; events arriving in a phase where they have no meaning are
// ignored.
type Controller struct {
	driver SessionDriver
	cb     Callbacks

	mode           Mode
	holdThreshold  time.Duration
	cancelDistance float64
	startTimeout   time.Duration
	finalWait      time.Duration
	clock          Clock

	mu        sync.Mutex
	phase     Phase
	gen       uint64 // interaction generation; stale timers and goroutines check it
	holdTimer Timer
	startX    float64
	startY    float64
	pressedAt time.Time
}

// NewController creates a [Controller] driving driver.
func NewController(driver SessionDriver, cb Callbacks, opts ...Option) (*Controller, error) {
	if driver == nil {
		return nil, errors.New("gesture: driver is required")
	}
	c := &Controller{
		driver:         driver,
		cb:             cb,
		mode:           ModeHold,
		holdThreshold:  DefaultHoldThreshold,
		cancelDistance: DefaultCancelDistance,
		startTimeout:   DefaultStartTimeout,
		finalWait:      DefaultFinalWait,
		clock:          realClock{},
		phase:          PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Retune applies tuning options to a live controller, for configuration hot
// reload. An interaction already in progress keeps the values it started
// with; changes take effect from the next one.
func (c *Controller) Retune(opts ...Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, opt := range opts {
		opt(c)
	}
}

// Phase returns the current interaction phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Recording reports whether audio frames should be forwarded right now.
// CancelPending still records: the cancel gesture is reversible and the
// audio must be there if the user drags back.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseRecording || c.phase == PhaseCancelPending
}

// PointerDown begins a hold interaction at (x, y). Ignored outside hold
// mode and outside the Idle phase.
func (c *Controller) PointerDown(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeHold || c.phase != PhaseIdle {
		return
	}
	c.phase = PhaseArmedPendingHold
	c.gen++
	c.startX, c.startY = x, y
	c.pressedAt = c.clock.Now()

	gen := c.gen
	c.holdTimer = c.clock.AfterFunc(c.holdThreshold, func() { c.holdElapsed(gen) })
}

// PointerMove updates the drag displacement. Only meaningful while
// Recording or CancelPending: crossing the cancel distance arms the cancel,
// dropping back under it disarms it.
func (c *Controller) PointerMove(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inZone := c.displacement(x, y) >= c.cancelDistance
	switch c.phase {
	case PhaseRecording:
		if inZone {
			c.phase = PhaseCancelPending
			slog.Debug("cancel gesture armed")
		}
	case PhaseCancelPending:
		if !inZone {
			c.phase = PhaseRecording
			slog.Debug("cancel gesture disarmed")
		}
	}
}

// PointerUp ends a hold interaction. Before the hold threshold it is a tap
// and has no session side effect. While Recording it commits the utterance;
// while CancelPending it discards it.
func (c *Controller) PointerUp() {
	c.mu.Lock()

	switch c.phase {
	case PhaseArmedPendingHold:
		// A tap: cancel the timer, no session was started.
		if c.holdTimer != nil {
			c.holdTimer.Stop()
			c.holdTimer = nil
		}
		c.phase = PhaseIdle
		c.gen++
		c.mu.Unlock()

	case PhaseRecording:
		c.phase = PhaseCommitting
		gen := c.gen
		c.mu.Unlock()
		go c.commit(gen)

	case PhaseCancelPending:
		c.phase = PhaseIdle
		c.gen++
		c.mu.Unlock()
		c.driver.Teardown()
		slog.Info("utterance cancelled by gesture")
		if c.cb.OnCancelled != nil {
			c.cb.OnCancelled()
		}

	default:
		c.mu.Unlock()
	}
}

// Click drives the click-only mode: the first click starts recording, the
// second commits. Ignored outside click mode.
func (c *Controller) Click() {
	c.mu.Lock()

	if c.mode != ModeClick {
		c.mu.Unlock()
		return
	}
	switch c.phase {
	case PhaseIdle:
		c.phase = PhaseArmedPendingHold
		c.gen++
		gen := c.gen
		c.mu.Unlock()
		go c.startRecording(gen)

	case PhaseRecording:
		c.phase = PhaseCommitting
		gen := c.gen
		c.mu.Unlock()
		go c.commit(gen)

	default:
		c.mu.Unlock()
	}
}

// InteractionCancel handles a system-level cancellation (focus loss, window
// dismissal). Any live utterance is discarded.
func (c *Controller) InteractionCancel() {
	c.mu.Lock()

	switch c.phase {
	case PhaseArmedPendingHold:
		if c.holdTimer != nil {
			c.holdTimer.Stop()
			c.holdTimer = nil
		}
		c.phase = PhaseIdle
		c.gen++
		c.mu.Unlock()

	case PhaseRecording, PhaseCancelPending:
		c.phase = PhaseIdle
		c.gen++
		c.mu.Unlock()
		c.driver.Teardown()
		if c.cb.OnCancelled != nil {
			c.cb.OnCancelled()
		}

	default:
		c.mu.Unlock()
	}
}

// holdElapsed fires when the hold timer expires. A stale generation means
// the interaction already ended and the timer lost the race with Stop.
func (c *Controller) holdElapsed(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseArmedPendingHold {
		c.mu.Unlock()
		return
	}
	c.holdTimer = nil
	c.mu.Unlock()

	c.startRecording(gen)
}

// startRecording establishes the session and enters Recording. On failure
// the interaction is abandoned.
func (c *Controller) startRecording(gen uint64) {
	c.mu.Lock()
	timeout := c.startTimeout
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.driver.StartSession(ctx); err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.phase = PhaseIdle
			c.gen++
		}
		c.mu.Unlock()
		slog.Warn("gesture could not start recording", "err", err)
		if c.cb.OnFailed != nil {
			c.cb.OnFailed(err)
		}
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		// The interaction ended while the session was connecting.
		c.mu.Unlock()
		c.driver.Teardown()
		return
	}
	c.phase = PhaseRecording
	c.mu.Unlock()

	if c.cb.OnStarted != nil {
		c.cb.OnStarted()
	}
}

// commit ends the utterance and waits for the final transcript, then
// returns the controller to Idle.
func (c *Controller) commit(gen uint64) {
	c.mu.Lock()
	wait := c.finalWait
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	err := c.driver.EndUtterance(ctx)
	var final voxtypes.Transcript
	if err == nil {
		final, err = c.driver.AwaitFinal(ctx)
	}
	c.driver.Teardown()

	c.mu.Lock()
	if c.gen == gen {
		c.phase = PhaseIdle
		c.gen++
	}
	c.mu.Unlock()

	if err != nil {
		slog.Warn("utterance commit failed", "err", err)
		if c.cb.OnFailed != nil {
			c.cb.OnFailed(err)
		}
		return
	}
	if c.cb.OnCommitted != nil {
		c.cb.OnCommitted(final)
	}
}

// displacement is the Euclidean distance from the press origin.
func (c *Controller) displacement(x, y float64) float64 {
	return math.Hypot(x-c.startX, y-c.startY)
}
