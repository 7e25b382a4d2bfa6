// Package energy implements a pure-Go VAD engine that classifies frames by
// RMS energy with optional hysteresis.
//
// A frame counts as loud when its normalized RMS level is strictly above
// SpeechThreshold. With the defaults (one onset frame, no hang-over) every
// loud frame is reported as speech and every quiet frame as silence, which is
// what the endpointer's last-loud clock needs.
package energy

import (
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithOnsetFrames sets how many consecutive loud frames open a speech
// segment. Values below 1 are ignored.
func WithOnsetFrames(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.onset = n
		}
	}
}

// WithHangFrames sets how many consecutive quiet frames close a speech
// segment. Zero closes it on the first quiet frame.
func WithHangFrames(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.hang = n
		}
	}
}

// Engine creates energy VAD sessions.
type Engine struct {
	onset int
	hang  int
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{onset: 1}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = cfg.SpeechThreshold
	}
	var frameBytes int
	if cfg.FrameSizeMs > 0 {
		frameBytes = cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	}
	return &session{
		speech:     cfg.SpeechThreshold,
		silence:    silence,
		onset:      e.onset,
		hang:       e.hang,
		frameBytes: frameBytes,
	}, nil
}

type session struct {
	speech     float64
	silence    float64
	onset      int
	hang       int
	frameBytes int

	inSpeech   bool
	loudCount  int
	quietCount int
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, vad.ErrSessionClosed
	}
	if s.frameBytes > 0 && len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := audio.RMS(frame)
	ev := vad.VADEvent{Probability: level}

	if s.inSpeech {
		if level < s.silence {
			s.quietCount++
			if s.quietCount > s.hang {
				s.inSpeech = false
				s.quietCount = 0
				ev.Type = vad.VADSpeechEnd
				return ev, nil
			}
		} else {
			s.quietCount = 0
		}
		ev.Type = vad.VADSpeechContinue
		return ev, nil
	}

	if level > s.speech {
		s.loudCount++
		if s.loudCount >= s.onset {
			s.inSpeech = true
			s.loudCount = 0
			ev.Type = vad.VADSpeechStart
			return ev, nil
		}
	} else {
		s.loudCount = 0
	}
	ev.Type = vad.VADSilence
	return ev, nil
}

func (s *session) Reset() {
	s.inSpeech = false
	s.loudCount = 0
	s.quietCount = 0
}

func (s *session) Close() error {
	s.closed = true
	return nil
}
