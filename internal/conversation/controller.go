// Package conversation implements the turn-taking state machine of a voice
// client.
//
// A [Controller] wires an [audio.Source] through an endpointer into a
// [transport.Conn] on the send side, and the connection's inbound audio into
// a [Player] on the receive side. It owns the session state
// (Idle, Listening, Processing, Speaking), the silence-check and response
// timers, and the observable [Status].
//
// Every input, whether an API call, a captured frame, an inbound message, a
// timer or a playback notification, becomes an event on a single queue that
// one goroutine drains in order. Handlers run to completion before the next
// event is taken, so state is never mutated concurrently. Operations that
// suspend (dialing, starting the microphone) run inline on that goroutine
// and events that arrive meanwhile wait in the queue.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/endpoint"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/transport"
)

// Player renders reply audio. [*playback.Engine] implements it.
type Player interface {
	Enqueue(frame audio.AudioFrame)
	Stop()
	Playing() bool
	OnPlayingChange(fn func(isPlaying bool))
}

// Message is a text payload received from the peer.
type Message struct {
	SessionID string
	Turn      uint64

	// Identity is the one the channel was opened with.
	Identity Identity

	Text     string
	Received time.Time
}

// Identity is sent to the peer as query parameters on connect.
type Identity struct {
	Username string
	Language string
	Persona  string
}

// Tuning holds the parameters that may change between turns.
type Tuning struct {
	// SilenceWindow is the quiet time that ends an utterance.
	SilenceWindow time.Duration

	// SilenceThreshold is the normalized RMS level above which a frame is loud.
	SilenceThreshold float64

	// SilenceCheckInterval is how often the endpointer is polled between
	// frames. Zero disables polling.
	SilenceCheckInterval time.Duration

	// ResponseTimeout bounds the Processing state.
	ResponseTimeout time.Duration

	// HandsFree starts the next turn automatically once a reply finished playing.
	HandsFree bool
}

// DefaultTuning returns the stock tuning values.
func DefaultTuning() Tuning {
	return Tuning{
		SilenceWindow:        1500 * time.Millisecond,
		SilenceThreshold:     0.01,
		SilenceCheckInterval: 100 * time.Millisecond,
		ResponseTimeout:      15 * time.Second,
	}
}

func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.SilenceWindow <= 0 {
		t.SilenceWindow = d.SilenceWindow
	}
	if t.SilenceThreshold <= 0 {
		t.SilenceThreshold = d.SilenceThreshold
	}
	if t.SilenceCheckInterval < 0 {
		t.SilenceCheckInterval = 0
	}
	if t.ResponseTimeout <= 0 {
		t.ResponseTimeout = d.ResponseTimeout
	}
	return t
}

// Config configures a [Controller].
type Config struct {
	// URL of the conversation endpoint.
	URL string

	// Sentinel is the end-of-utterance control token. Default: [transport.DefaultSentinel].
	Sentinel string

	// ConnectTimeout bounds a single dial. Zero means no extra bound.
	ConnectTimeout time.Duration

	Identity Identity

	// Input is the format the source captures in.
	Input audio.Format

	// Output is assumed for inbound raw PCM frames.
	Output audio.Format

	Tuning Tuning
}

// Option configures a [Controller].
type Option func(*Controller)

// WithClock replaces the system clock.
func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithBreaker guards dials with cb. An open breaker fails connect
// immediately with a ConnectionRefused error.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Controller) { c.breaker = cb }
}

// WithMessageSink registers fn to receive inbound text. fn runs on the event
// goroutine and must not block or call back into the Controller.
func WithMessageSink(fn func(Message)) Option {
	return func(c *Controller) { c.onMessage = fn }
}

// WithSessionID sets the identifier reported with messages and spans.
// Default: a random UUID.
func WithSessionID(id string) Option {
	return func(c *Controller) { c.sessionID = id }
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evStartTurn
	evStopTurn
	evSetTuning
	evSetEndpoint
	evClose
	evFrame
	evCaptureError
	evInbound
	evChannelClosed
	evSilenceCheck
	evResponseTimeout
	evPlaying
	evPlaybackError
)

type event struct {
	kind    eventKind
	ctx     context.Context
	id      uint64 // turn, connection or timer the event belongs to
	frame   audio.AudioFrame
	msg     transport.Message
	err     error
	playing bool
	tuning  Tuning
	cfg     Config
	reply   chan error
}

// Controller is the conversation state machine. All exported methods are
// safe for concurrent use.
type Controller struct {
	cfg       Config // event goroutine only after New
	source    audio.Source
	vad       vad.Engine
	dialer    transport.Dialer
	player    Player
	clock     Clock
	metrics   *observe.Metrics
	breaker   *resilience.CircuitBreaker
	onMessage func(Message)
	sessionID string

	qmu     sync.Mutex
	queue   []event
	stopped bool
	notify  chan struct{}
	done    chan struct{}

	// Owned by the event goroutine.
	state      SessionState
	connState  ConnectionState
	lastErr    error
	conn       transport.Conn
	connIdent  Identity
	connID     uint64
	capture    audio.Capture
	ep         *endpoint.Endpointer
	turn       uint64
	timerSeq   uint64
	silence    Timer
	silenceID  uint64
	response   Timer
	responseID uint64
	sentAt     time.Time
	turnStart  time.Time
	turnCtx    context.Context
	turnSpan   trace.Span

	smu       sync.Mutex
	status    Status
	observers []func(Status)
}

// New creates a Controller and starts its event goroutine. Call
// [Controller.Close] to release it.
func New(cfg Config, source audio.Source, engine vad.Engine, dialer transport.Dialer, player Player, opts ...Option) (*Controller, error) {
	var errs []error
	if source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if engine == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if dialer == nil {
		errs = append(errs, errors.New("dialer is required"))
	}
	if player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if cfg.Input.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("input sample rate must be positive, got %d", cfg.Input.SampleRate))
	}
	if cfg.Output.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("output sample rate must be positive, got %d", cfg.Output.SampleRate))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = transport.DefaultSentinel
	}
	if cfg.Input.Channels <= 0 {
		cfg.Input.Channels = 1
	}
	if cfg.Output.Channels <= 0 {
		cfg.Output.Channels = 1
	}
	cfg.Tuning = cfg.Tuning.withDefaults()

	c := &Controller{
		cfg:     cfg,
		source:  source,
		vad:     engine,
		dialer:  dialer,
		player:  player,
		clock:   systemClock{},
		turnCtx: context.Background(),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	player.OnPlayingChange(func(playing bool) {
		c.post(event{kind: evPlaying, playing: playing})
	})
	go c.run()
	return c, nil
}

// SessionID returns the identifier of this conversation.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// ─── Public API ───────────────────────────────────────────────────────────────

// Connect opens the channel if it is not open yet. Failures surface as a
// ConnectionRefused error and are not retried.
func (c *Controller) Connect(ctx context.Context) error {
	return c.call(ctx, event{kind: evConnect})
}

// Disconnect stops capture and playback, cancels timers and closes the
// channel. The microphone and the channel are released before it returns.
// It is safe to call from any state.
func (c *Controller) Disconnect() error {
	return c.call(context.Background(), event{kind: evDisconnect})
}

// StartTurn begins capturing a new utterance, connecting first if needed.
// While a reply is playing this is a barge-in: playback stops before the
// microphone is re-armed. Starting while Listening is a no-op.
func (c *Controller) StartTurn(ctx context.Context) error {
	return c.call(ctx, event{kind: evStartTurn})
}

// StopTurn ends the current utterance manually and sends the sentinel. While
// Speaking it stops playback and returns to Idle. Otherwise it is a no-op.
func (c *Controller) StopTurn() error {
	return c.call(context.Background(), event{kind: evStopTurn})
}

// SetTuning replaces the tuning. It applies from the next turn on, except
// for HandsFree which is read whenever a reply finishes.
func (c *Controller) SetTuning(t Tuning) error {
	return c.call(context.Background(), event{kind: evSetTuning, tuning: t})
}

// SetEndpoint replaces the URL, sentinel, connect timeout and identity with
// those of cfg. They apply on the next connect; an open channel is kept.
// Audio formats and tuning in cfg are ignored.
func (c *Controller) SetEndpoint(cfg Config) error {
	return c.call(context.Background(), event{kind: evSetEndpoint, cfg: cfg})
}

// NotifyPlaybackError records a failed render batch. Playback continues, so
// the session state does not change.
func (c *Controller) NotifyPlaybackError(err error) {
	if err == nil {
		return
	}
	c.post(event{kind: evPlaybackError, err: err})
}

// Status returns the latest published snapshot.
func (c *Controller) Status() Status {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.status
}

// OnStatus registers fn to be called with every new snapshot. fn runs on the
// event goroutine and must not call back into the Controller.
func (c *Controller) OnStatus(fn func(Status)) {
	c.smu.Lock()
	defer c.smu.Unlock()
	c.observers = append(c.observers, fn)
}

// Close disconnects and stops the event goroutine. It is idempotent.
func (c *Controller) Close() error {
	err := c.call(context.Background(), event{kind: evClose})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// ─── Event queue ──────────────────────────────────────────────────────────────

// post appends ev to the queue. It never blocks and reports false once the
// controller is closed.
func (c *Controller) post(ev event) bool {
	c.qmu.Lock()
	if c.stopped {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// call posts ev and waits for its handler to finish.
func (c *Controller) call(ctx context.Context, ev event) error {
	ev.ctx = ctx
	ev.reply = make(chan error, 1)
	if !c.post(ev) {
		return ErrClosed
	}
	select {
	case err := <-ev.reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) pop() (event, bool) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.queue) == 0 {
		return event{}, false
	}
	ev := c.queue[0]
	c.queue[0] = event{}
	c.queue = c.queue[1:]
	return ev, true
}

func (c *Controller) run() {
	defer close(c.done)
	for range c.notify {
		for {
			ev, ok := c.pop()
			if !ok {
				break
			}
			if c.handle(ev) {
				return
			}
			c.publish()
		}
	}
}

// handle applies one event. It returns true when the controller shut down.
func (c *Controller) handle(ev event) bool {
	var err error
	switch ev.kind {
	case evConnect:
		err = c.connect(ev.ctx)
	case evDisconnect:
		c.disconnect()
	case evStartTurn:
		err = c.startTurn(ev.ctx)
	case evStopTurn:
		err = c.stopTurn()
	case evSetTuning:
		c.cfg.Tuning = ev.tuning.withDefaults()
	case evSetEndpoint:
		c.setEndpoint(ev.cfg)
	case evClose:
		c.disconnect()
		c.player.OnPlayingChange(nil)
		c.publish()
		c.qmu.Lock()
		c.stopped = true
		c.queue = nil
		c.qmu.Unlock()
		ev.reply <- nil
		return true
	case evFrame:
		c.handleFrame(ev)
	case evCaptureError:
		c.handleCaptureError(ev)
	case evInbound:
		c.handleInbound(ev)
	case evChannelClosed:
		c.handleChannelClosed(ev)
	case evSilenceCheck:
		c.handleSilenceCheck(ev)
	case evResponseTimeout:
		c.handleResponseTimeout(ev)
	case evPlaying:
		c.handlePlaying(ev)
	case evPlaybackError:
		c.fail(&Error{Kind: KindPlaybackFailure, Err: ev.err})
	}
	if ev.reply != nil {
		ev.reply <- err
	}
	return false
}

func (c *Controller) publish() {
	s := Status{Connection: c.connState, Session: c.state, LastError: c.lastErr}
	c.smu.Lock()
	if s == c.status {
		c.smu.Unlock()
		return
	}
	c.status = s
	obs := append(([]func(Status))(nil), c.observers...)
	c.smu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// ─── Connection ───────────────────────────────────────────────────────────────

func (c *Controller) connect(ctx context.Context) error {
	if c.conn != nil && c.conn.State() == transport.StateReady {
		return nil
	}
	c.dropConn()

	u, err := c.endpointURL()
	if err != nil {
		c.connState = Failed
		return c.fail(&Error{Kind: KindConnectionRefused, Err: err})
	}

	c.connState = Connecting
	c.publish()

	c.connID++
	id := c.connID
	h := transport.Handler{
		OnMessage: func(m transport.Message) {
			c.post(event{kind: evInbound, id: id, msg: m})
		},
		OnClose: func(err error) {
			c.post(event{kind: evChannelClosed, id: id, err: err})
		},
	}

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	var conn transport.Conn
	dial := func() error {
		var err error
		conn, err = c.dialer.Dial(ctx, u, h)
		return err
	}
	if c.breaker != nil {
		err = c.breaker.Execute(dial)
	} else {
		err = dial()
	}
	if err != nil {
		c.connState = Failed
		return c.fail(classify(err, KindConnectionRefused))
	}

	c.conn = conn
	c.connIdent = c.cfg.Identity
	c.connState = Connected
	c.metrics.ActiveConnections.Add(context.Background(), 1)
	slog.Info("conversation: connected", "session_id", c.sessionID, "url", c.cfg.URL)
	return nil
}

func (c *Controller) setEndpoint(cfg Config) {
	c.cfg.URL = cfg.URL
	c.cfg.ConnectTimeout = cfg.ConnectTimeout
	c.cfg.Identity = cfg.Identity
	if cfg.Sentinel != "" {
		c.cfg.Sentinel = cfg.Sentinel
	}
}

func (c *Controller) endpointURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint url %q needs a scheme and host", c.cfg.URL)
	}
	q := u.Query()
	id := c.cfg.Identity
	for key, v := range map[string]string{
		"username":  id.Username,
		"language":  id.Language,
		"character": id.Persona,
	} {
		if v != "" {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dropConn closes the current channel, if any, and invalidates its events.
func (c *Controller) dropConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		slog.Debug("conversation: close channel", "err", err)
	}
	c.conn = nil
	c.connID++
	c.metrics.ActiveConnections.Add(context.Background(), -1)
}

func (c *Controller) disconnect() {
	c.player.Stop()
	c.finishTurn("disconnected")
	c.dropConn()
	c.connState = Disconnected
}

func (c *Controller) handleChannelClosed(ev event) {
	if ev.id != c.connID || c.conn == nil {
		return
	}
	slog.Warn("conversation: channel closed", "session_id", c.sessionID, "state", c.state, "err", ev.err)
	c.dropConn()
	c.connState = Failed
	c.player.Stop()
	c.finishTurn("channel_closed")
	err := ev.err
	if err == nil {
		err = transport.ErrChannelClosed
	}
	c.fail(&Error{Kind: KindChannelClosed, Err: err})
}

// ─── Turns ────────────────────────────────────────────────────────────────────

func (c *Controller) startTurn(ctx context.Context) error {
	switch c.state {
	case Listening:
		return nil
	case Speaking:
		// Residual reply audio must not play over the new recording.
		c.player.Stop()
		c.finishTurn("barge_in")
	case Processing:
		c.finishTurn("abandoned")
	}
	c.lastErr = nil

	if err := c.connect(ctx); err != nil {
		return err
	}

	t := c.cfg.Tuning
	ep, err := endpoint.New(c.vad, endpoint.Config{
		SampleRate:    c.cfg.Input.SampleRate,
		SilenceWindow: t.SilenceWindow,
		Threshold:     t.SilenceThreshold,
	}, endpoint.WithNow(c.clock.Now))
	if err != nil {
		return c.fail(&Error{Kind: KindCaptureFailed, Err: err})
	}

	c.turn++
	turn := c.turn
	capture, err := c.source.Start(ctx,
		func(f audio.AudioFrame) {
			c.post(event{kind: evFrame, id: turn, frame: f})
		},
		func(err error) {
			c.post(event{kind: evCaptureError, id: turn, err: err})
		},
	)
	if err != nil {
		if cerr := ep.Close(); cerr != nil {
			slog.Debug("conversation: close endpointer", "err", cerr)
		}
		return c.fail(classify(err, KindCaptureFailed))
	}
	c.capture = capture
	c.ep = ep

	c.turnStart = c.clock.Now()
	c.turnCtx, c.turnSpan = observe.StartTurn(context.Background(), c.sessionID, turn)
	c.armSilenceCheck()
	c.setState(Listening)
	observe.Logger(c.turnCtx).Debug("conversation: listening", "turn", turn)
	return nil
}

func (c *Controller) stopTurn() error {
	switch c.state {
	case Listening:
		return c.endUtterance(true)
	case Speaking:
		c.player.Stop()
		c.finishTurn("stopped")
	}
	return nil
}

// endUtterance leaves Listening. Silence-triggered ends without any loud
// frame go straight back to Idle; everything else sends the sentinel and
// waits for the reply.
func (c *Controller) endUtterance(manual bool) error {
	heard := c.ep.HeardSpeech()
	c.stopListening()

	if !manual && !heard {
		observe.Logger(c.turnCtx).Debug("conversation: empty utterance", "turn", c.turn)
		c.finishTurn("empty")
		return nil
	}

	var err error
	if c.conn == nil {
		err = transport.ErrNotReady
	} else {
		err = c.conn.SendControl(c.cfg.Sentinel)
	}
	if err != nil {
		c.finishTurn("send_failed")
		return c.fail(classify(err, KindChannelClosed))
	}

	c.sentAt = c.clock.Now()
	c.timerSeq++
	id := c.timerSeq
	c.responseID = id
	c.response = c.clock.AfterFunc(c.cfg.Tuning.ResponseTimeout, func() {
		c.post(event{kind: evResponseTimeout, id: id})
	})
	c.setState(Processing)
	return nil
}

func (c *Controller) handleFrame(ev event) {
	if ev.id != c.turn || c.state != Listening {
		return
	}
	ctx := c.turnCtx
	if c.conn != nil && c.conn.Send(ev.frame) {
		c.metrics.FramesSent.Add(ctx, 1)
	} else {
		c.metrics.RecordDrop(ctx, "not_ready")
	}
	if c.ep.Feed(ev.frame) == endpoint.EndOfUtterance {
		if err := c.endUtterance(false); err != nil {
			observe.Logger(ctx).Warn("conversation: end utterance", "err", err)
		}
	}
}

func (c *Controller) handleCaptureError(ev event) {
	if ev.id != c.turn || c.state != Listening {
		return
	}
	c.finishTurn("capture_failed")
	c.fail(classify(ev.err, KindCaptureFailed))
}

func (c *Controller) armSilenceCheck() {
	interval := c.cfg.Tuning.SilenceCheckInterval
	if interval <= 0 {
		return
	}
	c.timerSeq++
	id := c.timerSeq
	c.silenceID = id
	c.silence = c.clock.AfterFunc(interval, func() {
		c.post(event{kind: evSilenceCheck, id: id})
	})
}

func (c *Controller) handleSilenceCheck(ev event) {
	if ev.id != c.silenceID || c.state != Listening {
		return
	}
	c.silence = nil
	if c.ep.Poll() == endpoint.EndOfUtterance {
		if err := c.endUtterance(false); err != nil {
			observe.Logger(c.turnCtx).Warn("conversation: end utterance", "err", err)
		}
		return
	}
	c.armSilenceCheck()
}

func (c *Controller) handleResponseTimeout(ev event) {
	if ev.id != c.responseID || c.state != Processing {
		return
	}
	c.response = nil
	c.finishTurn("timeout")
	c.fail(&Error{
		Kind: KindResponseTimeout,
		Err:  fmt.Errorf("no reply within %v", c.cfg.Tuning.ResponseTimeout),
	})
}

func (c *Controller) handleInbound(ev event) {
	if ev.id != c.connID {
		return
	}
	ctx := c.turnCtx
	if ev.msg.Kind == transport.Text {
		c.metrics.RecordInbound(ctx, "text")
		if c.onMessage != nil {
			c.onMessage(Message{
				SessionID: c.sessionID,
				Turn:      c.turn,
				Identity:  c.connIdent,
				Text:      string(ev.msg.Data),
				Received:  c.clock.Now(),
			})
		}
		if c.state == Processing {
			c.replyArrived()
			c.finishTurn("text")
		}
		return
	}

	c.metrics.RecordInbound(ctx, "audio")
	frame, err := transport.Decode(ev.msg.Data, c.cfg.Output)
	if err != nil {
		c.metrics.RecordDrop(ctx, "malformed")
		observe.Logger(ctx).Debug("conversation: dropping malformed frame", "err", err, "bytes", len(ev.msg.Data))
		c.fail(&Error{Kind: KindMalformedFrame, Err: err})
		return
	}

	switch c.state {
	case Listening:
		c.metrics.RecordDrop(ctx, "listening")
		return
	case Processing:
		c.replyArrived()
	}
	c.player.Enqueue(frame)
	c.setState(Speaking)
}

// replyArrived cancels the response timer and records the latency.
func (c *Controller) replyArrived() {
	c.cancelResponse()
	c.metrics.ResponseLatency.Record(c.turnCtx, c.clock.Now().Sub(c.sentAt).Seconds())
}

func (c *Controller) handlePlaying(ev event) {
	switch {
	case ev.playing && c.state == Idle:
		// Frames were queued before a late idle notification was applied.
		c.setState(Speaking)
	case !ev.playing && c.state == Speaking && !c.player.Playing():
		c.finishTurn("played")
		if c.cfg.Tuning.HandsFree && c.conn != nil {
			if err := c.startTurn(context.Background()); err != nil {
				slog.Warn("conversation: hands-free turn", "session_id", c.sessionID, "err", err)
			}
		}
	}
}

// ─── Teardown helpers ─────────────────────────────────────────────────────────

// stopListening releases the microphone, the endpointer and the silence timer.
func (c *Controller) stopListening() {
	if c.silence != nil {
		c.silence.Stop()
		c.silence = nil
	}
	c.silenceID = 0
	if c.capture != nil {
		if err := c.capture.Stop(); err != nil {
			slog.Warn("conversation: stop capture", "err", err)
		}
		c.capture = nil
	}
	if c.ep != nil {
		if err := c.ep.Close(); err != nil {
			slog.Debug("conversation: close endpointer", "err", err)
		}
		c.ep = nil
	}
}

func (c *Controller) cancelResponse() {
	if c.response != nil {
		c.response.Stop()
		c.response = nil
	}
	c.responseID = 0
}

// finishTurn cancels everything the turn armed and returns to Idle.
func (c *Controller) finishTurn(outcome string) {
	c.stopListening()
	c.cancelResponse()
	if c.turnSpan != nil {
		observe.EndTurn(c.turnSpan, outcome)
		c.metrics.TurnDuration.Record(c.turnCtx, c.clock.Now().Sub(c.turnStart).Seconds(),
			metric.WithAttributes(attribute.String("outcome", outcome)))
		c.turnSpan = nil
		c.turnCtx = context.Background()
	}
	c.setState(Idle)
}

func (c *Controller) setState(s SessionState) {
	if s == c.state {
		return
	}
	c.metrics.RecordTransition(c.turnCtx, c.state.String(), s.String())
	slog.Debug("conversation: state", "session_id", c.sessionID, "from", c.state, "to", s)
	c.state = s
}

// fail records err as the last error and returns it.
func (c *Controller) fail(err *Error) error {
	c.lastErr = err
	c.metrics.RecordError(c.turnCtx, err.Kind.String())
	slog.Warn("conversation: error", "session_id", c.sessionID, "kind", err.Kind, "err", err.Err)
	return err
}
