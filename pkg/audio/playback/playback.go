// Package playback renders inbound reply audio through an [audio.Sink].
//
// The [Engine] keeps a jitter queue of frames. When the first frame arrives
// while idle it waits a short collection delay so that a burst of chunks is
// merged into one contiguous render instead of many small gapped ones. Each
// render cycle drains everything queued, concatenates it, wraps it as WAV and
// hands it to the sink. When a render finishes the queue is checked again;
// if it is empty the engine goes idle and reports isPlaying=false.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/wav"
)

// DefaultCollectionDelay is the wait between the first queued frame and the
// first render of a burst.
const DefaultCollectionDelay = 150 * time.Millisecond

// ErrNotInitialized is reported when rendering is attempted before Init.
var ErrNotInitialized = errors.New("playback: engine not initialized")

// Render describes one finished render cycle.
type Render struct {
	// Frames is the number of queued frames merged into the render.
	Frames int

	// Audio is the playback length of the merged buffer.
	Audio time.Duration

	// Elapsed is the wall time the sink took.
	Elapsed time.Duration

	// Err is non-nil when the sink failed. Cancelled renders are not reported.
	Err error
}

// Option configures an [Engine].
type Option func(*Engine)

// WithCollectionDelay overrides [DefaultCollectionDelay]. Zero renders the
// first frame immediately.
func WithCollectionDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithRenderHook registers fn to observe every completed render cycle. It runs
// on the dispatch goroutine and must not block.
func WithRenderHook(fn func(Render)) Option {
	return func(e *Engine) { e.renderHook = fn }
}

// Engine is a jitter-buffered audio player. All exported methods are safe for
// concurrent use.
type Engine struct {
	sink       audio.Sink
	format     audio.Format
	renderHook func(Render)
	conv       audio.FormatConverter // dispatch goroutine only

	// cbMu serializes onPlaying notifications so observers see a strict
	// true/false alternation.
	cbMu      sync.Mutex
	onPlaying func(bool)

	mu          sync.Mutex
	queue       []audio.AudioFrame
	playing     bool
	gen         uint64             // bumped by Stop; a cycle from an older gen stays silent
	cancelCycle context.CancelFunc // cancels the collection delay and the in-flight render
	delay       time.Duration
	initialized bool
	closed      bool

	notify chan struct{}
	done   chan struct{}
}

// New creates an Engine that renders through sink in the given output format.
// The dispatch goroutine starts immediately; call [Engine.Init] before the
// first render and [Engine.Close] to stop it.
func New(sink audio.Sink, format audio.Format, opts ...Option) *Engine {
	e := &Engine{
		sink:   sink,
		format: format,
		delay:  DefaultCollectionDelay,
		conv:   audio.FormatConverter{Target: format},
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	go e.dispatch()
	return e
}

// Init acquires the output device. Calling Init again re-opens the sink,
// which releases the previous device first.
func (e *Engine) Init() error {
	if err := e.sink.Open(e.format); err != nil {
		return fmt.Errorf("playback: open sink: %w", err)
	}
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	return nil
}

// OnPlayingChange registers fn as the observer of play/idle transitions.
// Subsequent calls replace it. fn must not block or call Stop or Close;
// Enqueue and Playing are safe to call from it.
func (e *Engine) OnPlayingChange(fn func(isPlaying bool)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onPlaying = fn
}

// Enqueue appends frame to the jitter queue and wakes the dispatcher.
func (e *Engine) Enqueue(frame audio.AudioFrame) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, frame)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Playing reports whether a render cycle is active (collecting or rendering)
// or frames are queued for the next one. It stays true between an idle
// notification and the cycle that picks up a frame enqueued after it.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing || len(e.queue) > 0
}

// SetCollectionDelay changes the collection delay for subsequent bursts.
// Negative values are ignored.
func (e *Engine) SetCollectionDelay(d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// Clear discards queued frames without interrupting the current render.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = nil
}

// Stop cancels any in-flight render, discards the queue and, if the engine
// was playing, fires onPlayingChange(false) exactly once before returning.
// Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()

	e.mu.Lock()
	was := e.stopLocked()
	cb := e.onPlaying
	e.mu.Unlock()

	if was && cb != nil {
		cb(false)
	}
}

func (e *Engine) stopLocked() bool {
	e.queue = nil
	e.gen++
	if e.cancelCycle != nil {
		e.cancelCycle()
		e.cancelCycle = nil
	}
	was := e.playing
	e.playing = false
	return was
}

// Close stops playback, ends the dispatch goroutine and releases the sink.
// It is idempotent.
func (e *Engine) Close() error {
	e.Stop()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.done)
	if err := e.sink.Close(); err != nil {
		return fmt.Errorf("playback: close sink: %w", err)
	}
	return nil
}

// dispatch is the background goroutine that runs render cycles until Close.
func (e *Engine) dispatch() {
	for {
		select {
		case <-e.done:
			return
		case <-e.notify:
		}
		e.cycle()
	}
}

// cycle plays everything queued, including frames that arrive while it
// renders, then goes idle.
func (e *Engine) cycle() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.cbMu.Lock()
	e.mu.Lock()
	if e.closed || e.playing || len(e.queue) == 0 {
		e.mu.Unlock()
		e.cbMu.Unlock()
		return
	}
	e.playing = true
	e.cancelCycle = cancel
	gen := e.gen
	delay := e.delay
	cb := e.onPlaying
	e.mu.Unlock()
	if cb != nil {
		cb(true)
	}
	e.cbMu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-e.done:
			t.Stop()
			return
		case <-t.C:
		}
	}

	for {
		batch, ok := e.next(gen)
		if !ok {
			return
		}
		e.render(ctx, batch)
	}
}

// next takes the queued batch. When the queue is empty it ends the cycle and
// reports idle. ok is false when the cycle is over or was stopped.
func (e *Engine) next(gen uint64) ([]audio.AudioFrame, bool) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return nil, false
	}
	if len(e.queue) > 0 {
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()
		return batch, true
	}
	e.mu.Unlock()

	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return nil, false
	}
	if len(e.queue) > 0 {
		// A frame slipped in between the two locks: keep going.
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()
		return batch, true
	}
	e.playing = false
	e.cancelCycle = nil
	cb := e.onPlaying
	e.mu.Unlock()
	if cb != nil {
		cb(false)
	}
	return nil, false
}

func (e *Engine) render(ctx context.Context, batch []audio.AudioFrame) {
	merged := make([]audio.AudioFrame, 0, len(batch))
	for _, f := range batch {
		c := e.conv.Convert(f)
		if len(c.Data) > 0 {
			merged = append(merged, c)
		}
	}
	pcm := audio.Concat(merged)
	if len(pcm) == 0 {
		return
	}
	container := wav.Wrap(pcm, wav.Header{SampleRate: e.format.SampleRate, Channels: e.format.Channels, BitsPerSample: 16})

	e.mu.Lock()
	initialized := e.initialized
	e.mu.Unlock()

	start := time.Now()
	var err error
	if !initialized {
		err = ErrNotInitialized
	} else {
		err = e.sink.Play(ctx, container)
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("playback: render failed, skipping batch", "err", err, "frames", len(batch))
	}
	if e.renderHook != nil {
		e.renderHook(Render{
			Frames:  len(batch),
			Audio:   audio.AudioFrame{Data: pcm, SampleRate: e.format.SampleRate, Channels: e.format.Channels}.Duration(),
			Elapsed: time.Since(start),
			Err:     err,
		})
	}
}
