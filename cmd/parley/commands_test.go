package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/pkg/memory"
)

// fakeController records the commands it receives.
type fakeController struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	status   conversation.Status
}

func (f *fakeController) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Connect(context.Context) error { f.record("connect"); return nil }
func (f *fakeController) Disconnect() error             { f.record("disconnect"); return nil }
func (f *fakeController) StopTurn() error               { f.record("stop"); return nil }

func (f *fakeController) StartTurn(context.Context) error {
	f.record("start")
	return f.startErr
}

func (f *fakeController) Status() conversation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func TestRunCommands_DispatchesUntilQuit(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	in := strings.NewReader("\nstart\nSTOP\nconnect\ndisconnect\nquit\nstart\n")
	var out bytes.Buffer

	if err := runCommands(context.Background(), in, &out, ctrl, nil); err != nil {
		t.Fatalf("runCommands: %v", err)
	}

	want := []string{"start", "start", "stop", "connect", "disconnect"}
	if got := ctrl.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestRunCommands_EOFEndsLoop(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	var out bytes.Buffer
	if err := runCommands(context.Background(), strings.NewReader("stop\n"), &out, ctrl, nil); err != nil {
		t.Fatalf("runCommands: %v", err)
	}
	if got := ctrl.Calls(); len(got) != 1 || got[0] != "stop" {
		t.Errorf("calls = %v", got)
	}
}

func TestRunCommands_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that never returns stands in for an idle terminal.
	r, w := io.Pipe()
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- runCommands(ctx, r, &bytes.Buffer{}, &fakeController{}, nil) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runCommands = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runCommands did not return after cancel")
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	entries := []memory.TranscriptEntry{
		{Turn: 2, Text: "The maps are upstairs.", Timestamp: time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)},
	}
	var gotN int
	history := func(_ context.Context, n int) ([]memory.TranscriptEntry, error) {
		gotN = n
		return entries, nil
	}

	tests := []struct {
		name    string
		line    string
		ctrl    *fakeController
		history historyFunc
		want    string
		quit    bool
	}{
		{
			name: "status",
			line: "status",
			ctrl: &fakeController{status: conversation.Status{
				Connection: conversation.Connected,
				Session:    conversation.Idle,
				LastError:  &conversation.Error{Kind: conversation.KindResponseTimeout},
			}},
			want: "connection: connected  session: idle  last error: conversation: response_timeout",
		},
		{
			name: "start error printed",
			line: "start",
			ctrl: &fakeController{startErr: conversation.ErrPermissionDenied},
			want: "error: conversation: permission_denied",
		},
		{
			name: "unknown",
			line: "dance",
			ctrl: &fakeController{},
			want: `unknown command "dance"`,
		},
		{
			name: "help",
			line: "help",
			ctrl: &fakeController{},
			want: "history [n]",
		},
		{
			name: "history without store",
			line: "history",
			ctrl: &fakeController{},
			want: "transcripts are not stored",
		},
		{
			name:    "history",
			line:    "history 3",
			ctrl:    &fakeController{},
			history: history,
			want:    "09:30:00  [2] The maps are upstairs.",
		},
		{
			name:    "history bad count",
			line:    "history many",
			ctrl:    &fakeController{},
			history: history,
			want:    `error: history: "many" is not a positive number`,
		},
		{
			name: "exit",
			line: "exit",
			ctrl: &fakeController{},
			quit: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			quit := execute(context.Background(), &out, tc.ctrl, tc.history, tc.line)
			if quit != tc.quit {
				t.Errorf("quit = %v, want %v", quit, tc.quit)
			}
			if !strings.Contains(out.String(), tc.want) {
				t.Errorf("output = %q, want it to contain %q", out.String(), tc.want)
			}
		})
	}
	if gotN != 3 {
		t.Errorf("history asked for %d entries, want 3", gotN)
	}
}

func TestStatusPrinter_PrintsSessionChangesOnly(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	p := statusPrinter(&out)

	p(conversation.Status{Connection: conversation.Connecting})
	p(conversation.Status{Connection: conversation.Connected})
	p(conversation.Status{Connection: conversation.Connected, Session: conversation.Listening})
	p(conversation.Status{Connection: conversation.Connected, Session: conversation.Listening, LastError: errors.New("x")})
	p(conversation.Status{Connection: conversation.Connected, Session: conversation.Processing})

	if got, want := out.String(), "● listening\n● processing\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
