package transport

import (
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/wav"
)

// WireFormat selects how outbound audio frames are encoded in binary messages.
type WireFormat int

const (
	// WirePCM sends raw little-endian PCM.
	WirePCM WireFormat = iota

	// WireWAV sends each frame as a self-describing WAV container.
	WireWAV
)

// ParseWireFormat maps a config value ("pcm" or "wav") to a WireFormat.
func ParseWireFormat(s string) (WireFormat, error) {
	switch s {
	case "", "pcm":
		return WirePCM, nil
	case "wav":
		return WireWAV, nil
	default:
		return WirePCM, fmt.Errorf("transport: unknown wire format %q", s)
	}
}

// String returns the config name of the format.
func (f WireFormat) String() string {
	if f == WireWAV {
		return "wav"
	}
	return "pcm"
}

// Encode returns the binary payload for frame. For WirePCM the frame's Data
// is returned as is; the caller hands over ownership.
func Encode(frame audio.AudioFrame, f WireFormat) []byte {
	if f == WireWAV {
		return wav.WrapFrame(frame)
	}
	return frame.Data
}

// Decode interprets an inbound binary payload. Payloads that start with a
// RIFF/WAVE header are unwrapped; anything else is raw 16-bit PCM in the
// fallback format. Errors wrap [wav.ErrMalformed].
func Decode(b []byte, fallback audio.Format) (audio.AudioFrame, error) {
	if wav.Is(b) {
		return wav.UnwrapFrame(b)
	}
	pcm := b[:len(b)-len(b)%2]
	if len(pcm) == 0 {
		return audio.AudioFrame{}, fmt.Errorf("%w: empty pcm payload", wav.ErrMalformed)
	}
	return audio.AudioFrame{
		Data:          pcm,
		SampleRate:    fallback.SampleRate,
		Channels:      fallback.Channels,
		BitsPerSample: 16,
	}, nil
}
