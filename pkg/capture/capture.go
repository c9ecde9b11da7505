// Package capture produces the fixed-cadence PCM frame stream that feeds the
// session protocol client.
//
// The [Engine] reads 16-bit little-endian PCM from an [io.Reader] — an OS
// capture shim, a file, or stdin — and emits one [voxtypes.Frame] per frame
// period on a ticker. Per-frame RMS energy is computed for silence detection.
// The engine never blocks past one frame period on a slow consumer: the
// frame callback is expected to drop rather than queue, matching the
// protocol's no-backpressure policy for live audio.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// defaultFrameDuration is the capture cadence when none is configured.
// 20ms at 16kHz mono 16-bit is 640 payload bytes per frame.
const defaultFrameDuration = 20 * time.Millisecond

// defaultSilenceThreshold is the RMS energy below which a frame counts as
// silence for [Stats.SilentFor].
const defaultSilenceThreshold = 0.01

// ErrSourceRequired is the setup error returned when no PCM source is given.
// Setup errors are fatal to the attempted session and are never retried.
var ErrSourceRequired = errors.New("capture: PCM source is required")

// ErrAlreadyRunning is returned by [Engine.Start] when the engine is running.
var ErrAlreadyRunning = errors.New("capture: engine already running")

// Producer is the frame-production contract the application wires into the
// protocol client. [Engine] is the real implementation; capture/mock provides
// a scripted one for tests.
type Producer interface {
	// Start begins frame production. Frames are delivered to the callback
	// configured at construction until Stop is called, ctx is cancelled, or
	// the source is exhausted.
	Start(ctx context.Context) error

	// Stop halts frame production. Safe to call multiple times.
	Stop()
}

// Stats is a snapshot of capture counters.
type Stats struct {
	// Frames is the number of frames emitted so far.
	Frames int64

	// Bytes is the total PCM payload emitted so far.
	Bytes int64

	// SilentFor is how long the input has been continuously below the
	// silence threshold. Resets to zero on any non-silent frame.
	SilentFor time.Duration
}

// Option is a functional option for configuring the [Engine].
type Option func(*Engine)

// WithFrameDuration sets the frame period. Default 20ms.
func WithFrameDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.frameDur = d
	}
}

// WithSilenceThreshold sets the RMS energy below which a frame counts as
// silence. Default 0.01.
func WithSilenceThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.silenceThreshold = threshold
	}
}

// Engine reads PCM from a source and emits fixed-duration frames on a
// ticker. It implements [Producer]. All methods are safe for concurrent use.
type Engine struct {
	source           io.Reader
	params           voxtypes.AudioParams
	frameDur         time.Duration
	silenceThreshold float64
	onFrame          func(voxtypes.Frame)

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stats   Stats
}

// New creates an [Engine] that reads 16-bit PCM in the given format from
// source and delivers frames to onFrame. A nil source or an unsupported
// format is a setup error.
func New(source io.Reader, params voxtypes.AudioParams, onFrame func(voxtypes.Frame), opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if onFrame == nil {
		return nil, errors.New("capture: frame callback is required")
	}
	if params.BitsPerSample != 16 {
		return nil, fmt.Errorf("capture: unsupported bit depth %d, only 16-bit PCM is supported", params.BitsPerSample)
	}
	if params.SampleRate <= 0 || params.Channels <= 0 {
		return nil, fmt.Errorf("capture: invalid audio params: %+v", params)
	}

	e := &Engine{
		source:           source,
		params:           params,
		frameDur:         defaultFrameDuration,
		silenceThreshold: defaultSilenceThreshold,
		onFrame:          onFrame,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Start begins the capture loop in a background goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	e.done = make(chan struct{})

	go e.captureLoop(ctx, e.done)
	return nil
}

// Stop halts frame production. Safe to call multiple times.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.done)
}

// Stats returns a snapshot of the capture counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// captureLoop reads one frame's worth of PCM per tick and hands it to the
// callback. A short read (end of source) stops the loop without emitting a
// partial frame.
func (e *Engine) captureLoop(ctx context.Context, done chan struct{}) {
	frameBytes := e.params.FrameBytes(e.frameDur)
	buf := make([]byte, frameBytes)
	start := time.Now()

	ticker := time.NewTicker(e.frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}

		n, err := io.ReadFull(e.source, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("capture source read failed", "err", err)
			}
			if n > 0 {
				slog.Debug("discarding partial frame at end of source", "bytes", n)
			}
			e.Stop()
			return
		}

		frame := voxtypes.Frame{
			Data:      append([]byte(nil), buf...),
			Energy:    rmsEnergy(buf),
			Timestamp: time.Since(start),
		}

		e.mu.Lock()
		e.stats.Frames++
		e.stats.Bytes += int64(len(frame.Data))
		if frame.Energy < e.silenceThreshold {
			e.stats.SilentFor += e.frameDur
		} else {
			e.stats.SilentFor = 0
		}
		e.mu.Unlock()

		e.onFrame(frame)
	}
}

// rmsEnergy computes the normalised RMS energy of 16-bit little-endian PCM
// in [0.0, 1.0]. An odd trailing byte is ignored.
func rmsEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}
