// Package audio defines the frame type, format conversion helpers and the
// device abstractions used by the parley voice pipeline.
//
// The two device abstractions are:
//
//   - [Source]: a microphone that pushes captured [AudioFrame] values to a
//     callback until its [Capture] is stopped.
//   - [Sink]: an output device that renders one WAV container at a time.
//
// Both are exclusive per-instance resources. Implementations live in
// platform-specific packages (e.g., audio/portaudio) and in audio/mock.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Source.Start] when access to the input
// device is refused. It is fatal to the current session but user-correctable.
var ErrPermissionDenied = errors.New("audio: input permission denied")

// ErrSinkClosed is returned by [Sink.Play] after [Sink.Close].
var ErrSinkClosed = errors.New("audio: sink closed")

// Capture is a running microphone capture returned by [Source.Start].
type Capture interface {
	// Stop ends the capture and releases the input device. It is idempotent:
	// calling Stop on a stopped capture is a no-op and returns nil.
	// No onFrame callback is invoked after Stop returns.
	Stop() error
}

// Source is a microphone capture device.
//
// Implementations must deliver frames to onFrame in strict capture order.
// Under backpressure frames are dropped, never reordered. onError receives
// unrecoverable capture failures; the device is released before it is called.
// Callbacks run on an internal goroutine and must not block.
type Source interface {
	// Start acquires the input device and begins capturing. It fails
	// synchronously with an error wrapping [ErrPermissionDenied] when the
	// device is refused. Starting while a previous capture from the same
	// Source is running stops that capture first.
	Start(ctx context.Context, onFrame func(AudioFrame), onError func(error)) (Capture, error)
}

// Sink is an audio output device.
type Sink interface {
	// Open acquires the output device for the given format. Opening an
	// already-open Sink releases the previous device first.
	Open(f Format) error

	// Play renders a WAV container and blocks until it has finished playing
	// or ctx is cancelled. A cancelled Play must stop output promptly.
	Play(ctx context.Context, container []byte) error

	// Close releases the output device. It is idempotent.
	Close() error
}
