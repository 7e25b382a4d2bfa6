package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// AudioFrame is a single slice of PCM audio flowing through the pipeline.
// Frames travel capture→transport or transport→playback and have exactly one
// owner at a time. Receivers must not retain Data after handing the frame on.
type AudioFrame struct {
	// Data holds little-endian signed PCM samples, interleaved by channel.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for synthesized replies).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// BitsPerSample is the sample depth. Zero is read as 16.
	BitsPerSample int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Bits returns the frame's bit depth, defaulting to 16.
func (f AudioFrame) Bits() int {
	if f.BitsPerSample == 0 {
		return 16
	}
	return f.BitsPerSample
}

// BlockAlign returns the number of bytes in one sample frame across all channels.
func (f AudioFrame) BlockAlign() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return ch * (f.Bits() / 8)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	ba := f.BlockAlign()
	if f.SampleRate <= 0 || ba == 0 {
		return 0
	}
	samples := len(f.Data) / ba
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// RMS returns the root-mean-square level of 16-bit little-endian PCM,
// normalized to the range 0..1. Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Concat joins the PCM payloads of frames into one buffer in order.
func Concat(frames []AudioFrame) []byte {
	n := 0
	for _, f := range frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range frames {
		out = append(out, f.Data...)
	}
	return out
}
