// Package mock provides in-memory implementations of [audio.Source],
// [audio.Capture] and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	src := &mock.Source{}
//	capture, _ := src.Start(ctx, onFrame, onError)
//	src.Last().Emit(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//
//	sink := mock.NewSink()
//	sink.Block = true // Play waits for ctx cancellation or Release
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StartCallCount records how many times Start was called.
	StartCallCount int

	captures []*Capture
}

var _ audio.Source = (*Source)(nil)

// Start records the call and returns a running [Capture]. A capture still
// running from a previous Start is stopped first.
func (s *Source) Start(_ context.Context, onFrame func(audio.AudioFrame), onError func(error)) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if n := len(s.captures); n > 0 {
		_ = s.captures[n-1].Stop()
	}
	c := &Capture{onFrame: onFrame, onError: onError, running: true}
	s.captures = append(s.captures, c)
	return c, nil
}

// Last returns the most recent capture, or nil.
func (s *Source) Last() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captures) == 0 {
		return nil
	}
	return s.captures[len(s.captures)-1]
}

// Starts returns StartCallCount. Thread-safe.
func (s *Source) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCallCount
}

// Running returns the number of captures that have not been stopped.
func (s *Source) Running() int {
	s.mu.Lock()
	caps := append([]*Capture(nil), s.captures...)
	s.mu.Unlock()
	n := 0
	for _, c := range caps {
		if c.Running() {
			n++
		}
	}
	return n
}

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu      sync.Mutex
	onFrame func(audio.AudioFrame)
	onError func(error)
	running bool

	// StopCallCount records how many times Stop was called.
	StopCallCount int

	// Released counts how many times the device was actually released.
	// Stop is idempotent, so this never exceeds one.
	Released int
}

var _ audio.Capture = (*Capture)(nil)

// Stop marks the capture stopped.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCallCount++
	if c.running {
		c.running = false
		c.Released++
	}
	return nil
}

// Running reports whether Stop has not been called yet.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Emit delivers f to onFrame if the capture is running. It reports whether
// the frame was delivered.
func (c *Capture) Emit(f audio.AudioFrame) bool {
	c.mu.Lock()
	cb, running := c.onFrame, c.running
	c.mu.Unlock()
	if !running || cb == nil {
		return false
	}
	cb(f)
	return true
}

// Fail simulates an unrecoverable capture error: the device is released
// and onError receives err.
func (c *Capture) Fail(err error) {
	c.mu.Lock()
	cb := c.onError
	if c.running {
		c.running = false
		c.Released++
	}
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records a single invocation of [Sink.Play].
type PlayCall struct {
	// Container is a copy of the WAV bytes passed to Play.
	Container []byte

	// Cancelled is true if ctx was cancelled before Play returned.
	Cancelled bool
}

// Sink is a mock implementation of [audio.Sink]. Create it with [NewSink].
type Sink struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// PlayErrs are returned by successive Play calls; nil entries and calls
	// past the end succeed.
	PlayErrs []error

	// Block makes Play wait until ctx is cancelled or Release is called.
	Block bool

	// PlayDelay makes Play take this long unless ctx is cancelled first.
	PlayDelay time.Duration

	// OpenCalls records the format of every Open call.
	OpenCalls []audio.Format

	// PlayCalls records every Play call in order.
	PlayCalls []PlayCall

	// CloseCallCount records how many times Close was called.
	CloseCallCount int

	started chan struct{}
	release chan struct{}
	open    bool
}

var _ audio.Sink = (*Sink)(nil)

// NewSink returns a Sink ready for use.
func NewSink() *Sink {
	return &Sink{
		started: make(chan struct{}, 256),
		release: make(chan struct{}),
	}
}

// Open records the call.
func (s *Sink) Open(f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, f)
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.open = true
	return nil
}

// Play records the call and returns the next scripted error.
func (s *Sink) Play(ctx context.Context, container []byte) error {
	s.mu.Lock()
	cp := append([]byte(nil), container...)
	idx := len(s.PlayCalls)
	s.PlayCalls = append(s.PlayCalls, PlayCall{Container: cp})
	var err error
	if idx < len(s.PlayErrs) {
		err = s.PlayErrs[idx]
	}
	block, delay, release := s.Block, s.PlayDelay, s.release
	s.mu.Unlock()

	s.started <- struct{}{}

	var wait <-chan time.Time
	if delay > 0 {
		wait = time.After(delay)
	}
	if block || delay > 0 {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.PlayCalls[idx].Cancelled = true
			s.mu.Unlock()
			return ctx.Err()
		case <-release:
		case <-wait:
		}
	}
	return err
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.open = false
	return nil
}

// Started is signalled each time Play begins.
func (s *Sink) Started() <-chan struct{} {
	return s.started
}

// Release unblocks every current and future blocking Play call.
func (s *Sink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// Plays returns a copy of the recorded Play calls.
func (s *Sink) Plays() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.PlayCalls...)
}

// IsOpen reports whether Open succeeded and Close has not been called since.
func (s *Sink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}
