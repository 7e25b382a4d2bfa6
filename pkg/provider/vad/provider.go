// Package vad defines the Engine interface for voice activity detection
// backends used by the endpointer.
//
// A VAD engine turns PCM frames into per-frame speech/silence events. Each
// session keeps its own detection state so that a new turn starts clean.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, making it suitable for the capture path where frames arrive every
// few tens of milliseconds.
package vad

import "errors"

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected frame duration. Zero accepts frames of any
	// length.
	FrameSizeMs int

	// SpeechThreshold is the level above which a frame counts as speech.
	// For the energy engine this is normalized RMS in [0, 1]; the original
	// clients used 0.01.
	SpeechThreshold float64

	// SilenceThreshold is the level below which an active speech segment is
	// considered ended. Must be ≤ SpeechThreshold. Zero means "same as
	// SpeechThreshold" (no hysteresis).
	SilenceThreshold float64
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("vad: sample rate must be positive"))
	}
	if c.FrameSizeMs < 0 {
		errs = append(errs, errors.New("vad: frame size must not be negative"))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, errors.New("vad: speech threshold must be within [0, 1]"))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must be within [0, speech threshold]"))
	}
	return errors.Join(errs...)
}

// SessionHandle is an active VAD session for a single audio stream. Reset
// clears detection state without closing the session.
//
// A SessionHandle is not safe for concurrent use.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of little-endian 16-bit PCM and
	// returns the detection result. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session. It returns an error if cfg is
	// invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
