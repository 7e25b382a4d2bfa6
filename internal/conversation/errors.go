package conversation

import (
	"errors"
	"fmt"

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/wav"
	"github.com/MrWong99/parley/pkg/transport"
)

// Kind classifies errors surfaced through [Status.LastError].
type Kind int

const (
	// KindUnknown is any error that fits no other kind.
	KindUnknown Kind = iota

	// KindPermissionDenied means microphone access was refused.
	KindPermissionDenied

	// KindConnectionRefused means the channel could not be opened.
	KindConnectionRefused

	// KindChannelClosed means an open channel ended or could not carry a send.
	KindChannelClosed

	// KindResponseTimeout means no reply arrived within the safety window.
	KindResponseTimeout

	// KindPlaybackFailure means one render batch failed. Playback continues.
	KindPlaybackFailure

	// KindMalformedFrame means an inbound audio frame could not be decoded and
	// was dropped.
	KindMalformedFrame

	// KindCaptureFailed means the microphone stopped with an unrecoverable error.
	KindCaptureFailed
)

// String returns the snake_case kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindConnectionRefused:
		return "connection_refused"
	case KindChannelClosed:
		return "channel_closed"
	case KindResponseTimeout:
		return "response_timeout"
	case KindPlaybackFailure:
		return "playback_failure"
	case KindMalformedFrame:
		return "malformed_frame"
	case KindCaptureFailed:
		return "capture_failed"
	default:
		return "unknown"
	}
}

// Sentinel values for errors.Is checks against surfaced errors.
var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrConnectionRefused = &Error{Kind: KindConnectionRefused}
	ErrChannelClosed     = &Error{Kind: KindChannelClosed}
	ErrResponseTimeout   = &Error{Kind: KindResponseTimeout}
	ErrPlaybackFailure   = &Error{Kind: KindPlaybackFailure}
	ErrMalformedFrame    = &Error{Kind: KindMalformedFrame}
	ErrCaptureFailed     = &Error{Kind: KindCaptureFailed}
)

// ErrClosed is returned by operations on a closed [Controller].
var ErrClosed = errors.New("conversation: controller closed")

// Error is a classified controller error. Two Errors match under errors.Is
// when their kinds are equal, so errors.Is(err, ErrResponseTimeout) works for
// any wrapped timeout.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return "conversation: " + e.Kind.String()
	}
	return fmt.Sprintf("conversation: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf classifies err. Errors already carrying a kind keep it; known
// package sentinels map to their kind; everything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, transport.ErrConnectionRefused),
		errors.Is(err, transport.ErrHandshakeFailed),
		errors.Is(err, resilience.ErrCircuitOpen):
		return KindConnectionRefused
	case errors.Is(err, transport.ErrChannelClosed),
		errors.Is(err, transport.ErrNotReady):
		return KindChannelClosed
	case errors.Is(err, wav.ErrMalformed):
		return KindMalformedFrame
	case errors.Is(err, playback.ErrNotInitialized), errors.Is(err, audio.ErrSinkClosed):
		return KindPlaybackFailure
	}
	return KindUnknown
}

// classify wraps err as an *Error. fallback is used when KindOf finds no kind.
func classify(err error, fallback Kind) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	k := KindOf(err)
	if k == KindUnknown {
		k = fallback
	}
	return &Error{Kind: k, Err: err}
}
