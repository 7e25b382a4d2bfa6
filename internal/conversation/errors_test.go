package conversation_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/wav"
	"github.com/MrWong99/parley/pkg/transport"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want conversation.Kind
	}{
		{"nil", nil, conversation.KindUnknown},
		{"plain", errors.New("boom"), conversation.KindUnknown},
		{"permission", fmt.Errorf("open: %w", audio.ErrPermissionDenied), conversation.KindPermissionDenied},
		{"refused", transport.ErrConnectionRefused, conversation.KindConnectionRefused},
		{"handshake", fmt.Errorf("dial: %w", transport.ErrHandshakeFailed), conversation.KindConnectionRefused},
		{"breaker", resilience.ErrCircuitOpen, conversation.KindConnectionRefused},
		{"closed", transport.ErrChannelClosed, conversation.KindChannelClosed},
		{"not ready", transport.ErrNotReady, conversation.KindChannelClosed},
		{"malformed", wav.ErrMalformed, conversation.KindMalformedFrame},
		{"classified", &conversation.Error{Kind: conversation.KindResponseTimeout}, conversation.KindResponseTimeout},
		{"wrapped classified", fmt.Errorf("turn: %w", &conversation.Error{Kind: conversation.KindCaptureFailed}), conversation.KindCaptureFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := conversation.KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	t.Parallel()

	cause := errors.New("no reply")
	err := fmt.Errorf("turn 3: %w", &conversation.Error{Kind: conversation.KindResponseTimeout, Err: cause})

	if !errors.Is(err, conversation.ErrResponseTimeout) {
		t.Error("errors.Is(err, ErrResponseTimeout) = false")
	}
	if errors.Is(err, conversation.ErrChannelClosed) {
		t.Error("errors.Is(err, ErrChannelClosed) = true")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestStatus_MarshalJSON(t *testing.T) {
	t.Parallel()

	st := conversation.Status{
		Connection: conversation.Connected,
		Session:    conversation.Processing,
		LastError:  &conversation.Error{Kind: conversation.KindResponseTimeout, Err: errors.New("no reply within 15s")},
	}
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := map[string]string{
		"connection_state": "connected",
		"session_state":    "processing",
		"last_error":       "conversation: response_timeout: no reply within 15s",
		"last_error_kind":  "response_timeout",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	b, err = json.Marshal(conversation.Status{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"connection_state":"disconnected","session_state":"idle"}` {
		t.Errorf("idle status = %s", b)
	}
}
