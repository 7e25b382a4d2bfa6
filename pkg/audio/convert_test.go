package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := audio.BytesToInt16(audio.MonoToStereo(audio.Int16ToBytes([]int16{7, -7})))
	want := []int16{7, 7, -7, -7}
	assertSamples(t, got, want)
}

func TestStereoToMono_Averages(t *testing.T) {
	t.Parallel()
	got := audio.BytesToInt16(audio.StereoToMono(audio.Int16ToBytes([]int16{100, 300, -32768, -32768})))
	want := []int16{200, -32768}
	assertSamples(t, got, want)
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		src, dst int
		wantLen  int
	}{
		{name: "same rate", in: []int16{1, 2, 3}, src: 16000, dst: 16000, wantLen: 3},
		{name: "48k to 16k", in: make([]int16, 480), src: 48000, dst: 16000, wantLen: 160},
		{name: "16k to 24k", in: make([]int16, 160), src: 16000, dst: 24000, wantLen: 240},
		{name: "invalid rate passthrough", in: []int16{1, 2}, src: 0, dst: 16000, wantLen: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := audio.ResampleMono16(audio.Int16ToBytes(tt.in), tt.src, tt.dst)
			if got := len(out) / 2; got != tt.wantLen {
				t.Errorf("samples = %d, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestFormatConverter_MatchingFormatIsZeroCopy(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.AudioFrame{Data: audio.Int16ToBytes([]int16{1, 2}), SampleRate: 16000, Channels: 1}
	out := conv.Convert(frame)
	if &out.Data[0] != &frame.Data[0] {
		t.Error("expected the input slice to be returned unchanged")
	}
}

func TestFormatConverter_DeviceToWire(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	// 10 ms of 48 kHz stereo.
	frame := audio.AudioFrame{Data: make([]byte, 480*4), SampleRate: 48000, Channels: 2, Timestamp: time.Second}
	out := conv.Convert(frame)
	if out.SampleRate != 16000 || out.Channels != 1 || out.Bits() != 16 {
		t.Fatalf("format = %d Hz %d ch %d bit", out.SampleRate, out.Channels, out.Bits())
	}
	if len(out.Data) != 160*2 {
		t.Errorf("len = %d, want %d", len(out.Data), 320)
	}
	if out.Timestamp != time.Second {
		t.Errorf("timestamp = %v, want 1s", out.Timestamp)
	}
}

func TestFormatConverter_OddByteCountTruncates(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert(audio.AudioFrame{Data: []byte{1, 0, 2, 0, 9}, SampleRate: 16000, Channels: 1})
	if len(out.Data) != 4 {
		t.Fatalf("len = %d, want 4", len(out.Data))
	}
}

func TestFormatConverter_RejectsNon16Bit(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert(audio.AudioFrame{Data: make([]byte, 12), SampleRate: 16000, Channels: 1, BitsPerSample: 24})
	if len(out.Data) != 0 {
		t.Errorf("expected empty data, got %d bytes", len(out.Data))
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	if got := audio.RMS(audio.Int16ToBytes(make([]int16, 100))); got != 0 {
		t.Errorf("RMS(silence) = %v", got)
	}
	full := audio.RMS(audio.Int16ToBytes([]int16{-32768, -32768}))
	if math.Abs(full-1) > 1e-9 {
		t.Errorf("RMS(full scale) = %v, want 1", full)
	}
	half := audio.RMS(audio.Int16ToBytes([]int16{16384, -16384}))
	if math.Abs(half-0.5) > 1e-9 {
		t.Errorf("RMS(half scale) = %v, want 0.5", half)
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	t.Parallel()
	f := audio.AudioFrame{Data: make([]byte, 960), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != 30*time.Millisecond {
		t.Errorf("Duration = %v, want 30ms", got)
	}
	if got := (audio.AudioFrame{Data: make([]byte, 10)}).Duration(); got != 0 {
		t.Errorf("Duration without rate = %v, want 0", got)
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()
	got := audio.Concat([]audio.AudioFrame{{Data: []byte{1, 2}}, {Data: nil}, {Data: []byte{3}}})
	if string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("Concat = %v", got)
	}
}

func assertSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
