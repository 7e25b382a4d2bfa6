// Package websocket implements [transport.Dialer] over a WebSocket using
// github.com/coder/websocket.
//
// Each connection runs one reader goroutine and one writer goroutine. Send
// and SendControl push onto a bounded queue consumed by the writer, so audio
// frames and the end-of-segment token leave the client in the order they
// were queued and Send never blocks the capture path.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/transport"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 4 << 20
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*conn)(nil)
)

// ─── Options ──────────────────────────────────────────────────────────────────

// Option configures a [Dialer].
type Option func(*Dialer)

// WithHeader sets extra HTTP headers sent with the upgrade request.
func WithHeader(h http.Header) Option {
	return func(d *Dialer) { d.header = h.Clone() }
}

// WithHTTPClient sets the HTTP client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.client = c }
}

// WithSendQueue sets the number of outbound messages that may wait for the
// writer. Frames beyond it are dropped.
func WithSendQueue(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single message write and how long Close waits
// for an in-flight write to finish.
func WithWriteTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.writeTimeout = t
		}
	}
}

// WithWireFormat selects the outbound audio encoding.
func WithWireFormat(f transport.WireFormat) Option {
	return func(d *Dialer) { d.wire = f }
}

// WithReadLimit caps the size of a single inbound message.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.readLimit = n
		}
	}
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer opens WebSocket connections to the conversation endpoint.
type Dialer struct {
	header       http.Header
	client       *http.Client
	queueSize    int
	writeTimeout time.Duration
	wire         transport.WireFormat
	readLimit    int64
}

// NewDialer returns a Dialer with the given options applied.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string, h transport.Handler) (transport.Conn, error) {
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.header,
		HTTPClient: d.client,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: status %d: %v", transport.ErrHandshakeFailed, url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrConnectionRefused, url, err)
	}
	ws.SetReadLimit(d.readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:           ws,
		handler:      h,
		wire:         d.wire,
		writeTimeout: d.writeTimeout,
		queue:        make(chan outbound, d.queueSize),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		ctx:          connCtx,
		cancel:       cancel,
	}
	c.state.Store(int32(transport.StateReady))

	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

// ─── Connection ───────────────────────────────────────────────────────────────

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

type conn struct {
	ws           *websocket.Conn
	handler      transport.Handler
	wire         transport.WireFormat
	writeTimeout time.Duration

	queue      chan outbound
	done       chan struct{}
	writerDone chan struct{}
	state      atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
}

func (c *conn) State() transport.State {
	return transport.State(c.state.Load())
}

func (c *conn) Send(frame audio.AudioFrame) bool {
	if c.State() != transport.StateReady {
		return false
	}
	select {
	case c.queue <- outbound{typ: websocket.MessageBinary, data: transport.Encode(frame, c.wire)}:
		return true
	default:
		return false
	}
}

func (c *conn) SendControl(token string) error {
	if c.State() != transport.StateReady {
		return transport.ErrNotReady
	}
	t := time.NewTimer(c.writeTimeout)
	defer t.Stop()
	select {
	case c.queue <- outbound{typ: websocket.MessageText, data: []byte(token)}:
		return nil
	case <-c.done:
		return transport.ErrNotReady
	case <-t.C:
		return fmt.Errorf("%w: send queue full", transport.ErrNotReady)
	}
}

func (c *conn) Close() error {
	c.shutdown(transport.StateClosed, nil)
	return nil
}

func (c *conn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			// Writes use their own deadline rather than c.ctx: cancelling a
			// write mid-frame would tear the connection down.
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.ws.Write(ctx, msg.typ, msg.data)
			cancel()
			if err != nil {
				if !c.isDone() {
					c.shutdown(transport.StateErrored, fmt.Errorf("write: %w", err))
				}
				return
			}
		}
	}
}

func (c *conn) readLoop() {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.isDone() {
				return
			}
			st := transport.StateErrored
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				st = transport.StateClosed
			}
			c.shutdown(st, fmt.Errorf("read: %w", err))
			return
		}
		if c.isDone() {
			return
		}
		kind := transport.Binary
		if typ == websocket.MessageText {
			kind = transport.Text
		}
		if c.handler.OnMessage != nil {
			c.handler.OnMessage(transport.Message{Kind: kind, Data: data})
		}
	}
}

func (c *conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// shutdown tears the connection down once. A nil cause means a local Close:
// the in-flight write is allowed to finish and a normal close handshake is
// performed. Otherwise the socket is dropped and OnClose is notified.
func (c *conn) shutdown(st transport.State, cause error) {
	c.shutdownOnce.Do(func() {
		c.state.Store(int32(st))
		close(c.done)

		if cause == nil {
			select {
			case <-c.writerDone:
			case <-time.After(c.writeTimeout):
				slog.Warn("websocket: in-flight write did not finish before close")
			}
			if err := c.ws.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
				slog.Debug("websocket: close handshake", "err", err)
			}
			c.cancel()
			return
		}

		_ = c.ws.CloseNow()
		c.cancel()
		slog.Info("websocket: channel ended", "state", st, "cause", cause)
		if c.handler.OnClose != nil {
			c.handler.OnClose(fmt.Errorf("%w: %v", transport.ErrChannelClosed, cause))
		}
	})
}
