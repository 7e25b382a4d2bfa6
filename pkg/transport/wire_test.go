package transport_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/wav"
	"github.com/MrWong99/parley/pkg/transport"
)

var out24k = audio.Format{SampleRate: 24000, Channels: 1}

func TestEncode(t *testing.T) {
	t.Parallel()
	f := audio.AudioFrame{Data: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1}

	if got := transport.Encode(f, transport.WirePCM); !bytes.Equal(got, f.Data) {
		t.Errorf("pcm = %v, want raw data", got)
	}
	got := transport.Encode(f, transport.WireWAV)
	if !wav.Is(got) || len(got) != wav.HeaderSize+4 {
		t.Errorf("wav payload = %d bytes, is wav %v", len(got), wav.Is(got))
	}
}

func TestDecode_RawPCMUsesFallbackFormat(t *testing.T) {
	t.Parallel()
	f, err := transport.Decode([]byte{1, 0, 2, 0, 3}, out24k)
	if err != nil {
		t.Fatal(err)
	}
	if f.SampleRate != 24000 || f.Channels != 1 || f.Bits() != 16 {
		t.Errorf("format = %+v", f)
	}
	if len(f.Data) != 4 {
		t.Errorf("len = %d, want 4 (odd byte truncated)", len(f.Data))
	}
}

func TestDecode_WAV(t *testing.T) {
	t.Parallel()
	in := wav.Wrap([]byte{9, 0}, wav.Header{SampleRate: 22050, Channels: 1, BitsPerSample: 16})
	f, err := transport.Decode(in, out24k)
	if err != nil {
		t.Fatal(err)
	}
	if f.SampleRate != 22050 || !bytes.Equal(f.Data, []byte{9, 0}) {
		t.Errorf("frame = %+v", f)
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()
	bad := wav.Wrap([]byte{1, 0}, wav.Header{SampleRate: 16000, Channels: 1, BitsPerSample: 16})[:30]
	for name, in := range map[string][]byte{"truncated wav": bad, "empty": {}, "single byte": {7}} {
		if _, err := transport.Decode(in, out24k); !errors.Is(err, wav.ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestParseWireFormat(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]transport.WireFormat{"": transport.WirePCM, "pcm": transport.WirePCM, "wav": transport.WireWAV} {
		got, err := transport.ParseWireFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseWireFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := transport.ParseWireFormat("opus"); err == nil {
		t.Error("expected error for opus")
	}
}
