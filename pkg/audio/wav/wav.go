// Package wav converts raw PCM buffers to and from the canonical 44-byte
// RIFF/WAVE container.
//
// All functions are pure: no I/O, no shared state. For any PCM payload whose
// length is a multiple of the block size, Unwrap(Wrap(pcm, h)) returns pcm
// and h unchanged.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
)

// HeaderSize is the size of the canonical PCM container header.
const HeaderSize = 44

const formatPCM = 1

// ErrMalformed is wrapped by every error returned from [Unwrap].
var ErrMalformed = errors.New("wav: malformed container")

// Header describes the PCM layout carried by a container.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BlockAlign returns the size in bytes of one sample across all channels.
func (h Header) BlockAlign() int {
	return h.Channels * (h.BitsPerSample / 8)
}

// ByteRate returns the number of PCM bytes per second.
func (h Header) ByteRate() int {
	return h.SampleRate * h.BlockAlign()
}

func (h Header) normalized() Header {
	if h.Channels <= 0 {
		h.Channels = 1
	}
	if h.BitsPerSample <= 0 {
		h.BitsPerSample = 16
	}
	return h
}

// Wrap prepends a canonical 44-byte header to pcm. A trailing partial block
// is truncated, never padded. Zero channel or bit-depth values in h are read
// as mono and 16-bit.
func Wrap(pcm []byte, h Header) []byte {
	h = h.normalized()
	if ba := h.BlockAlign(); ba > 0 {
		pcm = pcm[:len(pcm)-len(pcm)%ba]
	}
	out := make([]byte, HeaderSize+len(pcm))
	putHeader(out, h, len(pcm))
	copy(out[HeaderSize:], pcm)
	return out
}

// WrapFrame wraps a frame's payload using the frame's own format tags.
func WrapFrame(f audio.AudioFrame) []byte {
	return Wrap(f.Data, Header{SampleRate: f.SampleRate, Channels: f.Channels, BitsPerSample: f.Bits()})
}

func putHeader(b []byte, h Header, dataLen int) {
	le := binary.LittleEndian
	copy(b[0:4], "RIFF")
	le.PutUint32(b[4:8], uint32(36+dataLen))
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	le.PutUint32(b[16:20], 16)
	le.PutUint16(b[20:22], formatPCM)
	le.PutUint16(b[22:24], uint16(h.Channels))
	le.PutUint32(b[24:28], uint32(h.SampleRate))
	le.PutUint32(b[28:32], uint32(h.ByteRate()))
	le.PutUint16(b[32:34], uint16(h.BlockAlign()))
	le.PutUint16(b[34:36], uint16(h.BitsPerSample))
	copy(b[36:40], "data")
	le.PutUint32(b[40:44], uint32(dataLen))
}

// Is reports whether b starts like a RIFF/WAVE container.
func Is(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// Unwrap parses a container and returns its PCM payload and layout.
// Chunks other than "fmt " and "data" are skipped. A data chunk whose
// declared length overruns the buffer (as written by streaming encoders) is
// read to the end of the buffer. The returned slice aliases b.
func Unwrap(b []byte) ([]byte, Header, error) {
	if len(b) < 12 {
		return nil, Header{}, fmt.Errorf("%w: %d bytes is shorter than a RIFF header", ErrMalformed, len(b))
	}
	if !Is(b) {
		return nil, Header{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrMalformed)
	}

	le := binary.LittleEndian
	var (
		h      Header
		gotFmt bool
	)
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(le.Uint32(b[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return nil, Header{}, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrMalformed, size)
			}
			if tag := le.Uint16(b[body : body+2]); tag != formatPCM {
				return nil, Header{}, fmt.Errorf("%w: unsupported format tag %d", ErrMalformed, tag)
			}
			h = Header{
				Channels:      int(le.Uint16(b[body+2 : body+4])),
				SampleRate:    int(le.Uint32(b[body+4 : body+8])),
				BitsPerSample: int(le.Uint16(b[body+14 : body+16])),
			}
			if err := validate(h); err != nil {
				return nil, Header{}, err
			}
			if ba := int(le.Uint16(b[body+12 : body+14])); ba != h.BlockAlign() {
				return nil, Header{}, fmt.Errorf("%w: block align %d, want %d", ErrMalformed, ba, h.BlockAlign())
			}
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, Header{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformed)
			}
			end := body + size
			if size < 0 || end > len(b) || end < body {
				end = len(b)
			}
			pcm := b[body:end]
			pcm = pcm[:len(pcm)-len(pcm)%h.BlockAlign()]
			return pcm, h, nil
		}

		// Chunks are word aligned.
		next := body + size + size%2
		if next <= pos || size < 0 {
			break
		}
		pos = next
	}
	return nil, Header{}, fmt.Errorf("%w: no data chunk", ErrMalformed)
}

// UnwrapFrame parses a container into an AudioFrame.
func UnwrapFrame(b []byte) (audio.AudioFrame, error) {
	pcm, h, err := Unwrap(b)
	if err != nil {
		return audio.AudioFrame{}, err
	}
	return audio.AudioFrame{
		Data:          pcm,
		SampleRate:    h.SampleRate,
		Channels:      h.Channels,
		BitsPerSample: h.BitsPerSample,
	}, nil
}

func validate(h Header) error {
	var errs []error
	if h.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channel count %d", h.Channels))
	}
	if h.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d", h.SampleRate))
	}
	switch h.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("bit depth %d", h.BitsPerSample))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrMalformed, errors.Join(errs...))
	}
	return nil
}
