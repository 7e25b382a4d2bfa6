// Package portaudio implements [audio.Source] and [audio.Sink] on top of the
// PortAudio blocking stream API.
//
// PortAudio initialization is reference counted, so every capture and every
// open sink holds its own Initialize/Terminate pair and releases it when the
// device is released.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	defaultFrameDuration = 30 * time.Millisecond
	defaultBuffer        = 32
)

var _ audio.Source = (*Source)(nil)

// SourceOption configures a [Source].
type SourceOption func(*Source)

// WithInputDevice selects the first input device whose name contains name
// (case-insensitive). Empty selects the system default.
func WithInputDevice(name string) SourceOption {
	return func(s *Source) { s.device = name }
}

// WithFrameDuration sets the capture cadence.
func WithFrameDuration(d time.Duration) SourceOption {
	return func(s *Source) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithBuffer sets how many captured frames may wait for delivery before new
// ones are dropped.
func WithBuffer(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithDropHook registers fn to be called for every frame dropped under
// backpressure or input overflow. It runs on the capture goroutine.
func WithDropHook(fn func()) SourceOption {
	return func(s *Source) { s.onDrop = fn }
}

// Source captures mono 16-bit PCM from a microphone.
type Source struct {
	format   audio.Format
	frameDur time.Duration
	device   string
	buffer   int
	onDrop   func()

	mu      sync.Mutex
	current *capture
}

// NewSource returns a Source that delivers frames at the given sample rate,
// mono. If the device cannot open at that rate it opens at its default rate
// and frames are resampled.
func NewSource(sampleRate int, opts ...SourceOption) *Source {
	s := &Source{
		format:   audio.Format{SampleRate: sampleRate, Channels: 1},
		frameDur: defaultFrameDuration,
		buffer:   defaultBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context, onFrame func(audio.AudioFrame), onError func(error)) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		_ = s.current.Stop()
		s.current = nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	stream, rate, buf, err := s.open()
	if err != nil {
		_ = pa.Terminate()
		return nil, classify(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, classify(err)
	}

	c := &capture{
		stream:      stream,
		buf:         buf,
		rate:        rate,
		frameDur:    s.frameDur,
		conv:        audio.FormatConverter{Target: s.format},
		frames:      make(chan audio.AudioFrame, s.buffer),
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
		deliverDone: make(chan struct{}),
		onFrame:     onFrame,
		onError:     onError,
		onDrop:      s.onDrop,
	}
	go c.read()
	go c.deliver()

	s.current = c
	slog.Info("portaudio: capture started", "sample_rate", rate, "target_rate", s.format.SampleRate)
	return c, nil
}

func (s *Source) open() (*pa.Stream, int, []int16, error) {
	dev, err := pickDevice(s.device, true)
	if err != nil {
		return nil, 0, nil, err
	}
	openAt := func(rate int) (*pa.Stream, []int16, error) {
		n := int(int64(rate) * int64(s.frameDur) / int64(time.Second))
		buf := make([]int16, n)
		p := pa.StreamParameters{
			Input: pa.StreamDeviceParameters{
				Device:   dev,
				Channels: 1,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(rate),
			FramesPerBuffer: n,
		}
		st, err := pa.OpenStream(p, buf)
		return st, buf, err
	}

	stream, buf, err := openAt(s.format.SampleRate)
	if errors.Is(err, pa.InvalidSampleRate) && dev.DefaultSampleRate > 0 {
		rate := int(dev.DefaultSampleRate)
		slog.Info("portaudio: device rejected target rate, resampling", "device", dev.Name, "device_rate", rate)
		stream, buf, err = openAt(rate)
		return stream, rate, buf, err
	}
	return stream, s.format.SampleRate, buf, err
}

// ─── Capture ──────────────────────────────────────────────────────────────────

type capture struct {
	stream   *pa.Stream
	buf      []int16
	rate     int
	frameDur time.Duration
	conv     audio.FormatConverter // reader goroutine only

	frames      chan audio.AudioFrame
	done        chan struct{}
	readerDone  chan struct{}
	deliverDone chan struct{}

	onFrame func(audio.AudioFrame)
	onError func(error)
	onDrop  func()

	stopOnce    sync.Once
	releaseOnce sync.Once
	releaseErr  error
}

// Stop implements [audio.Capture]. It must not be called from onFrame. Only
// the call that stops the capture reports a release error.
func (c *capture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)
		<-c.readerDone
		<-c.deliverDone
		err = c.releaseErr
		slog.Info("portaudio: capture stopped")
	})
	return err
}

// read pulls buffers off the stream and hands them to the deliverer. A full
// delivery queue drops the newest frame; order is never changed.
func (c *capture) read() {
	defer close(c.readerDone)
	defer close(c.frames)

	var n int64
	for {
		select {
		case <-c.done:
			c.release()
			return
		default:
		}

		err := c.stream.Read()
		if errors.Is(err, pa.InputOverflowed) {
			c.dropped()
			n++
			continue
		}
		if err != nil {
			c.release()
			if c.onError != nil {
				c.onError(fmt.Errorf("portaudio: read: %w", err))
			}
			return
		}

		f := c.conv.Convert(audio.AudioFrame{
			Data:          audio.Int16ToBytes(c.buf),
			SampleRate:    c.rate,
			Channels:      1,
			BitsPerSample: 16,
			Timestamp:     time.Duration(n) * c.frameDur,
		})
		n++
		select {
		case c.frames <- f:
		default:
			c.dropped()
		}
	}
}

func (c *capture) deliver() {
	defer close(c.deliverDone)
	for f := range c.frames {
		if c.onFrame != nil {
			c.onFrame(f)
		}
	}
}

func (c *capture) dropped() {
	if c.onDrop != nil {
		c.onDrop()
	}
}

func (c *capture) release() {
	c.releaseOnce.Do(func() {
		errs := []error{c.stream.Stop(), c.stream.Close(), pa.Terminate()}
		if err := errors.Join(errs...); err != nil {
			c.releaseErr = fmt.Errorf("portaudio: release input: %w", err)
		}
	})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func pickDevice(name string, input bool) (*pa.DeviceInfo, error) {
	if name == "" {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	devs, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, d := range devs {
		if input && d.MaxInputChannels < 1 || !input && d.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no device matching %q", name)
}

// classify maps PortAudio open failures onto audio errors. PortAudio reports
// refused microphone access as an unavailable device.
func classify(err error) error {
	if errors.Is(err, pa.DeviceUnavailable) || errors.Is(err, pa.NoDefaultInputDevice) {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("portaudio: open stream: %w", err)
}
