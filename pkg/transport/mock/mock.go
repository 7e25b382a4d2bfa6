// Package mock provides recording test doubles for the transport package.
//
// Dialer hands out Conn values; tests inspect what was sent and push inbound
// traffic with Conn.Deliver or end the channel with Conn.Drop.
//
//	conn := mock.NewConn()
//	d := &mock.Dialer{Conn: conn}
//	c, _ := d.Dial(ctx, "ws://peer", handler)
//	conn.Deliver(transport.Message{Kind: transport.Text, Data: []byte("hi")})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/transport"
)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	URL string
}

// Dialer is a mock implementation of [transport.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Conn is returned by Dial while it is ready. Otherwise a fresh Conn is
	// created per call.
	Conn *Conn

	// DialErr, if non-nil, is returned by Dial.
	DialErr error

	// DialCalls records every call in order.
	DialCalls []DialCall

	// Conns records every Conn handed out.
	Conns []*Conn
}

// Dial records the call, installs h on the Conn and returns it.
func (d *Dialer) Dial(_ context.Context, url string, h transport.Handler) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{URL: url})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := d.Conn
	if c == nil || c.State() != transport.StateReady {
		c = NewConn()
	}
	c.setHandler(h)
	d.Conns = append(d.Conns, c)
	return c, nil
}

// Calls returns the number of Dial calls. Thread-safe.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}

// Last returns the most recently dialed Conn, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}

var _ transport.Dialer = (*Dialer)(nil)

// Conn is a mock implementation of [transport.Conn].
type Conn struct {
	mu      sync.Mutex
	handler transport.Handler
	state   transport.State

	// SendControlErr, if non-nil, is returned by SendControl.
	SendControlErr error

	// Frames records every frame accepted by Send.
	Frames []audio.AudioFrame

	// Dropped counts frames rejected because the Conn was not ready.
	Dropped int

	// Controls records every token passed to SendControl.
	Controls []string

	// CloseCallCount is the number of Close calls.
	CloseCallCount int
}

// NewConn returns a ready Conn.
func NewConn() *Conn {
	return &Conn{state: transport.StateReady}
}

func (c *Conn) setHandler(h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Send records frame when ready.
func (c *Conn) Send(frame audio.AudioFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != transport.StateReady {
		c.Dropped++
		return false
	}
	c.Frames = append(c.Frames, frame)
	return true
}

// SendControl records token.
func (c *Conn) SendControl(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != transport.StateReady {
		return transport.ErrNotReady
	}
	if c.SendControlErr != nil {
		return c.SendControlErr
	}
	c.Controls = append(c.Controls, token)
	return nil
}

// State returns the current state.
func (c *Conn) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close marks the Conn closed and counts the call.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	if c.state == transport.StateReady {
		c.state = transport.StateClosed
	}
	return nil
}

// SetState forces the lifecycle state.
func (c *Conn) SetState(s transport.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Deliver invokes the installed OnMessage callback with m.
func (c *Conn) Deliver(m transport.Message) {
	c.mu.Lock()
	h := c.handler.OnMessage
	c.mu.Unlock()
	if h != nil {
		h(m)
	}
}

// Drop simulates the peer ending the channel: the Conn becomes errored and
// OnClose receives err.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	c.state = transport.StateErrored
	h := c.handler.OnClose
	c.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// Snapshot returns copies of the recorded frames and controls. Thread-safe.
func (c *Conn) Snapshot() (frames []audio.AudioFrame, controls []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.AudioFrame(nil), c.Frames...), append([]string(nil), c.Controls...)
}

// Closes returns CloseCallCount. Thread-safe.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCallCount
}

var _ transport.Conn = (*Conn)(nil)
