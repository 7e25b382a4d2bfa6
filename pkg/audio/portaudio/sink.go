package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/wav"
)

const sinkBufferDuration = 20 * time.Millisecond

var _ audio.Sink = (*Sink)(nil)

// Sink plays WAV containers on a speaker through a blocking PortAudio stream.
// The zero value is not usable; create one with [NewSink].
type Sink struct {
	device string

	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	format audio.Format
	conv   *audio.FormatConverter
}

// NewSink returns a Sink for the output device whose name contains device,
// or the system default when device is empty.
func NewSink(device string) *Sink {
	return &Sink{device: device}
}

// Open implements [audio.Sink].
func (s *Sink) Open(f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		if err := s.releaseLocked(); err != nil {
			slog.Warn("portaudio: release previous output", "err", err)
		}
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	dev, err := pickDevice(s.device, false)
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: output device: %w", err)
	}

	n := int(int64(f.SampleRate) * int64(sinkBufferDuration) / int64(time.Second))
	buf := make([]int16, n*f.Channels)
	stream, err := pa.OpenStream(pa.StreamParameters{
		Output: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: f.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: n,
	}, buf)
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start output: %w", err)
	}

	s.stream = stream
	s.buf = buf
	s.format = f
	s.conv = &audio.FormatConverter{Target: f}
	slog.Info("portaudio: output opened", "device", dev.Name, "sample_rate", f.SampleRate, "channels", f.Channels)
	return nil
}

// Play implements [audio.Sink]. Output stops at the next buffer boundary
// once ctx is cancelled.
func (s *Sink) Play(ctx context.Context, container []byte) error {
	frame, err := wav.UnwrapFrame(container)
	if err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return audio.ErrSinkClosed
	}

	samples := audio.BytesToInt16(s.conv.Convert(frame).Data)
	for off := 0; off < len(samples); off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(s.buf, samples[off:])
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	return s.releaseLocked()
}

func (s *Sink) releaseLocked() error {
	err := errors.Join(s.stream.Stop(), s.stream.Close(), pa.Terminate())
	s.stream = nil
	s.buf = nil
	if err != nil {
		return fmt.Errorf("portaudio: release output: %w", err)
	}
	return nil
}
