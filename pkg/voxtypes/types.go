// Package voxtypes defines the shared types used across all Vocalink packages.
//
// These types form the lingua franca between the capture engine, the session
// protocol client, and the reference gateway. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package voxtypes

import "time"

// AudioParams describes the PCM format negotiated for a session. The values
// are declared in the hello message and must match what the capture engine
// actually produces.
type AudioParams struct {
	// Format is the container/codec label declared to the backend.
	// Vocalink only produces raw PCM, so this is "pcm" in practice.
	Format string

	// SampleRate in Hz (e.g., 16000 for STT-optimised mono).
	SampleRate int

	// Channels: 1 for mono (required by most recognizers).
	Channels int

	// BitsPerSample is the PCM bit depth. Only 16 is supported.
	BitsPerSample int
}

// DefaultAudioParams returns the 16kHz/mono/16-bit PCM format used when the
// caller does not specify one.
func DefaultAudioParams() AudioParams {
	return AudioParams{
		Format:        "pcm",
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// FrameBytes returns the payload size of one frame of the given duration, or
// 0 when the params are incomplete.
func (p AudioParams) FrameBytes(frameDuration time.Duration) int {
	if p.SampleRate <= 0 || p.Channels <= 0 || p.BitsPerSample <= 0 {
		return 0
	}
	samples := int(frameDuration * time.Duration(p.SampleRate) / time.Second)
	return samples * p.Channels * p.BitsPerSample / 8
}

// Frame represents a single frame of audio data flowing from the capture
// engine into the protocol client. Frames are the atomic unit of transport —
// captured on a fixed cadence and handed to the session client exactly once.
type Frame struct {
	// PCM audio data. Sample rate and channel count are fixed by the
	// session's AudioParams.
	Data []byte

	// Energy is the RMS energy of the frame in [0.0, 1.0]. Used for
	// silence detection; zero for an all-silence frame.
	Energy float64

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Transcript represents a recognition result for a session. Both interim
// (replaceable) and final (authoritative) results use this type.
type Transcript struct {
	// SessionID identifies the session this result belongs to.
	SessionID string

	// Text is the recognised speech content. Each interim transcript
	// supersedes the previous one; it is never a delta to be appended.
	Text string

	// IsFinal indicates whether this is the terminal result for the
	// utterance. At most one final transcript is delivered per session.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the backend does not report confidence for interim results.
	Confidence float64
}
