package portaudio

import (
	"errors"
	"testing"
)

// stoppedCapture returns a capture whose reader and deliverer have already
// exited, as after a read error released the stream.
func stoppedCapture(releaseErr error) *capture {
	c := &capture{
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
		deliverDone: make(chan struct{}),
		releaseErr:  releaseErr,
	}
	close(c.readerDone)
	close(c.deliverDone)
	return c
}

func TestCaptureStop_ReportsReleaseErrorOnce(t *testing.T) {
	t.Parallel()
	errRelease := errors.New("device gone")
	c := stoppedCapture(errRelease)

	if err := c.Stop(); !errors.Is(err, errRelease) {
		t.Fatalf("first Stop = %v, want %v", err, errRelease)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
}

func TestCaptureStop_CleanReleaseReturnsNil(t *testing.T) {
	t.Parallel()
	c := stoppedCapture(nil)

	for i := range 2 {
		if err := c.Stop(); err != nil {
			t.Errorf("Stop #%d = %v, want nil", i+1, err)
		}
	}
}
