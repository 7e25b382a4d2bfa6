// Package endpoint decides when a speaker has finished an utterance.
//
// An [Endpointer] keeps a "last-loud" timestamp. Every frame that the VAD
// session classifies as speech moves it to now. Once now − last-loud reaches
// the silence window, [Endpointer.Feed] (or [Endpointer.Poll]) returns
// [EndOfUtterance] and the clock restarts, so the next utterance is detected
// without re-arming.
//
// The Endpointer never buffers audio. It only turns frames into decisions.
// It is not safe for concurrent use; the conversation controller drives it
// from its event loop.
package endpoint

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Decision is the outcome of feeding a frame.
type Decision int

const (
	// Continue means the utterance is still in progress.
	Continue Decision = iota

	// EndOfUtterance means the silence window has elapsed since the last loud frame.
	EndOfUtterance
)

// String returns the decision name.
func (d Decision) String() string {
	if d == EndOfUtterance {
		return "end_of_utterance"
	}
	return "continue"
}

// Config holds the endpointing parameters.
type Config struct {
	// SampleRate of the frames that will be fed.
	SampleRate int

	// SilenceWindow is the continuous quiet time that ends an utterance.
	SilenceWindow time.Duration

	// Threshold is the normalized level above which a frame counts as loud.
	Threshold float64
}

// Option configures an [Endpointer].
type Option func(*Endpointer)

// WithNow replaces the time source. Tests use it to drive a simulated clock.
func WithNow(now func() time.Time) Option {
	return func(e *Endpointer) {
		e.now = now
	}
}

// Endpointer turns a frame stream into end-of-utterance decisions.
type Endpointer struct {
	session vad.SessionHandle
	window  time.Duration
	now     func() time.Time

	lastLoud time.Time
	heard    bool
	fired    bool
	warned   bool
}

// New creates an Endpointer backed by a session from engine. The last-loud
// clock starts at creation time, so an utterance that never gets loud still
// ends once the window elapses.
func New(engine vad.Engine, cfg Config, opts ...Option) (*Endpointer, error) {
	if cfg.SilenceWindow <= 0 {
		return nil, fmt.Errorf("endpoint: silence window must be positive, got %v", cfg.SilenceWindow)
	}
	session, err := engine.NewSession(vad.Config{
		SampleRate:      cfg.SampleRate,
		SpeechThreshold: cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("endpoint: create vad session: %w", err)
	}
	e := &Endpointer{
		session: session,
		window:  cfg.SilenceWindow,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.lastLoud = e.now()
	return e, nil
}

// Feed classifies frame and returns the resulting decision.
func (e *Endpointer) Feed(frame audio.AudioFrame) Decision {
	e.beginUtterance()
	ev, err := e.session.ProcessFrame(frame.Data)
	if err != nil {
		if !e.warned {
			e.warned = true
			slog.Warn("endpoint: vad failed, treating frame as quiet", "err", err)
		}
	} else if ev.IsSpeech() {
		e.lastLoud = e.now()
		e.heard = true
	}
	return e.check()
}

// Poll evaluates the silence window without a new frame. The controller
// calls it from a periodic timer so a stalled microphone still ends the turn.
func (e *Endpointer) Poll() Decision {
	e.beginUtterance()
	return e.check()
}

// HeardSpeech reports whether any frame of the current utterance was loud.
// After EndOfUtterance it keeps describing the finished utterance until the
// next Feed, Poll or Reset.
func (e *Endpointer) HeardSpeech() bool {
	return e.heard
}

// Reset restarts the last-loud clock and forgets detection state.
func (e *Endpointer) Reset() {
	e.session.Reset()
	e.lastLoud = e.now()
	e.heard = false
	e.fired = false
}

// Close releases the VAD session.
func (e *Endpointer) Close() error {
	return e.session.Close()
}

func (e *Endpointer) beginUtterance() {
	if e.fired {
		e.fired = false
		e.heard = false
	}
}

func (e *Endpointer) check() Decision {
	now := e.now()
	if now.Sub(e.lastLoud) < e.window {
		return Continue
	}
	e.lastLoud = now
	e.fired = true
	return EndOfUtterance
}
