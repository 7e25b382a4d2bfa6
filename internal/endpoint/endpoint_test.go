package endpoint_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/endpoint"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

const (
	frameDur = 30 * time.Millisecond
	window   = 1500 * time.Millisecond
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time          { return f.t }
func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func frame(amplitude int16) audio.AudioFrame {
	s := make([]int16, 480)
	for i := range s {
		if i%2 == 0 {
			s[i] = amplitude
		} else {
			s[i] = -amplitude
		}
	}
	return audio.AudioFrame{Data: audio.Int16ToBytes(s), SampleRate: 16000, Channels: 1}
}

var (
	silent = frame(0)
	loud   = frame(4000)
)

func newEndpointer(t *testing.T, clk *fakeNow) *endpoint.Endpointer {
	t.Helper()
	e, err := endpoint.New(energy.New(), endpoint.Config{
		SampleRate:    16000,
		SilenceWindow: window,
		Threshold:     0.01,
	}, endpoint.WithNow(clk.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestFeed_SilenceFiresOnceAtWindow(t *testing.T) {
	t.Parallel()
	clk := &fakeNow{t: time.Unix(1000, 0)}
	start := clk.t
	e := newEndpointer(t, clk)

	var fired []time.Duration
	for elapsed := time.Duration(0); elapsed < 2*window-frameDur; elapsed += frameDur {
		if e.Feed(silent) == endpoint.EndOfUtterance {
			fired = append(fired, clk.t.Sub(start))
		}
		clk.advance(frameDur)
	}

	if len(fired) != 1 {
		t.Fatalf("EndOfUtterance fired %d times (%v), want 1", len(fired), fired)
	}
	if fired[0] < window {
		t.Errorf("fired at %v, before the %v window", fired[0], window)
	}
	if fired[0] >= window+frameDur {
		t.Errorf("fired at %v, more than one frame after the window", fired[0])
	}
	if e.HeardSpeech() {
		t.Error("HeardSpeech = true for an all-silent utterance")
	}
}

func TestFeed_LoudFrameResetsClock(t *testing.T) {
	t.Parallel()
	clk := &fakeNow{t: time.Unix(1000, 0)}
	e := newEndpointer(t, clk)

	// Accumulate silence just short of the window.
	for clk.advance(0); ; clk.advance(frameDur) {
		if e.Feed(silent) == endpoint.EndOfUtterance {
			t.Fatal("fired while building up silence")
		}
		if clk.t.Sub(time.Unix(1000, 0)) >= window-2*frameDur {
			break
		}
	}

	clk.advance(frameDur)
	loudAt := clk.t
	if e.Feed(loud) != endpoint.Continue {
		t.Fatal("loud frame returned EndOfUtterance")
	}

	for {
		clk.advance(frameDur)
		d := e.Feed(silent)
		if d == endpoint.EndOfUtterance {
			if since := clk.t.Sub(loudAt); since < window {
				t.Fatalf("fired %v after the loud frame, want >= %v", since, window)
			}
			break
		}
		if clk.t.Sub(loudAt) > 2*window {
			t.Fatal("never fired after loud frame")
		}
	}
	if !e.HeardSpeech() {
		t.Error("HeardSpeech = false after a loud frame")
	}
}

func TestHeardSpeech_ClearsWhenNextUtteranceBegins(t *testing.T) {
	t.Parallel()
	clk := &fakeNow{t: time.Unix(1000, 0)}
	e := newEndpointer(t, clk)

	e.Feed(loud)
	clk.advance(window)
	if e.Poll() != endpoint.EndOfUtterance {
		t.Fatal("Poll did not fire after the window")
	}
	if !e.HeardSpeech() {
		t.Fatal("HeardSpeech should describe the finished utterance")
	}
	clk.advance(frameDur)
	if e.Feed(silent) != endpoint.Continue {
		t.Fatal("fired again immediately after reset")
	}
	if e.HeardSpeech() {
		t.Error("HeardSpeech carried over into the next utterance")
	}
}

func TestPoll_FiresWithoutFrames(t *testing.T) {
	t.Parallel()
	clk := &fakeNow{t: time.Unix(1000, 0)}
	e := newEndpointer(t, clk)

	clk.advance(window - time.Millisecond)
	if e.Poll() != endpoint.Continue {
		t.Fatal("Poll fired before the window")
	}
	clk.advance(time.Millisecond)
	if e.Poll() != endpoint.EndOfUtterance {
		t.Fatal("Poll did not fire at the window")
	}
	if e.Poll() != endpoint.Continue {
		t.Error("Poll fired twice at the same instant")
	}
}

func TestReset_RestartsClock(t *testing.T) {
	t.Parallel()
	clk := &fakeNow{t: time.Unix(1000, 0)}
	e := newEndpointer(t, clk)

	clk.advance(window - frameDur)
	e.Reset()
	clk.advance(2 * frameDur)
	if e.Poll() != endpoint.Continue {
		t.Error("fired using the pre-Reset clock")
	}
}

func TestFeed_VADErrorCountsAsQuiet(t *testing.T) {
	t.Parallel()
	clk := &fakeNow{t: time.Unix(1000, 0)}
	sess := &vadmock.Session{
		EventResult:     vad.VADEvent{Type: vad.VADSpeechContinue},
		ProcessFrameErr: errors.New("boom"),
	}
	e, err := endpoint.New(&vadmock.Engine{Session: sess}, endpoint.Config{
		SampleRate:    16000,
		SilenceWindow: window,
	}, endpoint.WithNow(clk.now))
	if err != nil {
		t.Fatal(err)
	}
	clk.advance(window)
	if e.Feed(loud) != endpoint.EndOfUtterance {
		t.Error("a failing VAD kept the utterance open")
	}
	if e.HeardSpeech() {
		t.Error("HeardSpeech = true from a failed VAD call")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := endpoint.New(energy.New(), endpoint.Config{SampleRate: 16000}); err == nil {
		t.Error("expected error for zero silence window")
	}
	if _, err := endpoint.New(&vadmock.Engine{NewSessionErr: errors.New("no")}, endpoint.Config{SampleRate: 16000, SilenceWindow: time.Second}); err == nil {
		t.Error("expected error when the vad session cannot be created")
	}
}
