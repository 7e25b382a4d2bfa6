// Package transport defines the duplex message channel between the voice
// client and the remote conversational peer.
//
// Binary messages carry audio and text messages carry control tokens or
// transcripts. The two use disjoint wire representations, so the
// end-of-segment sentinel can never be confused with an audio payload.
//
// A [Conn] is the connection handle. Its lifecycle is explicit:
// connecting → ready → closed | errored. Implementations live in
// transport/websocket and transport/mock.
package transport

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/audio"
)

// DefaultSentinel is the end-of-segment token sent after the last audio
// frame of an utterance.
const DefaultSentinel = "EOS"

var (
	// ErrConnectionRefused is returned by Dial when the peer could not be reached.
	ErrConnectionRefused = errors.New("transport: connection refused")

	// ErrHandshakeFailed is returned by Dial when the peer answered but
	// rejected the upgrade.
	ErrHandshakeFailed = errors.New("transport: handshake failed")

	// ErrChannelClosed is passed to Handler.OnClose when the peer closes the
	// channel or the connection breaks.
	ErrChannelClosed = errors.New("transport: channel closed")

	// ErrNotReady is returned by SendControl when the connection is not ready
	// or its send queue is full.
	ErrNotReady = errors.New("transport: connection not ready")
)

// State is the lifecycle state of a [Conn].
type State int

const (
	StateConnecting State = iota
	StateReady
	StateClosed
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MessageKind distinguishes the two wire representations.
type MessageKind int

const (
	// Binary messages carry PCM or WAV audio.
	Binary MessageKind = iota

	// Text messages carry control tokens, transcripts or replies.
	Text
)

// String returns the kind name.
func (k MessageKind) String() string {
	if k == Text {
		return "text"
	}
	return "binary"
}

// Message is one inbound message.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Handler receives inbound traffic for a [Conn]. Both callbacks run on the
// connection's reader goroutine and must not block.
type Handler struct {
	// OnMessage receives each inbound message in arrival order.
	OnMessage func(Message)

	// OnClose is called once when the channel ends without a local Close.
	// err wraps [ErrChannelClosed].
	OnClose func(err error)
}

// Conn is an open duplex channel. All methods are safe for concurrent use.
type Conn interface {
	// Send queues an audio frame as one binary message. Frames are silently
	// dropped when the connection is not ready or the queue is full; Send
	// never blocks. It reports whether the frame was queued.
	Send(frame audio.AudioFrame) bool

	// SendControl queues a text message. It is ordered after every frame
	// queued before it. It returns [ErrNotReady] if it could not be queued.
	SendControl(token string) error

	// State returns the current lifecycle state.
	State() State

	// Close flushes nothing, finishes any in-flight write and releases the
	// connection. It is idempotent. A frame is never sent partially.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	// Dial connects to url and returns a ready Conn. Errors wrap
	// [ErrConnectionRefused] or [ErrHandshakeFailed]. h is installed before
	// the first message can arrive.
	Dial(ctx context.Context, url string, h Handler) (Conn, error)
}
