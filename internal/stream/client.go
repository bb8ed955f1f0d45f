package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tablepulse/internal/domain"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
	DefaultKeepAlive   = 30 * time.Second

	writeWait = 10 * time.Second
)

var (
	ErrNotConnected   = errors.New("stream not connected")
	ErrNoAddress      = errors.New("stream address not set")
	ErrNotStarted     = errors.New("stream client not started")
	ErrAlreadyStarted = errors.New("stream client already started")

	errInterrupted = errors.New("connection interrupted by caller")
)

// Handler receives a dispatched inbound event on the client goroutine.
type Handler func(ctx context.Context, ev domain.Event)

type Config struct {
	URL         string
	Header      http.Header
	BaseDelay   time.Duration
	MaxAttempts int
	KeepAlive   time.Duration
	Clock       clockwork.Clock
	Dial        DialFunc
}

// intent records a caller request the client goroutine has not acted on yet.
type intent int

const (
	intentNone intent = iota
	intentDisconnect
	intentReconnect
)

type Client struct {
	cfg   Config
	clock clockwork.Clock

	mu         sync.Mutex
	state      State
	retrying   bool
	attempts   int
	conn       Conn
	cancelDial context.CancelFunc
	intent     intent
	handlers   map[domain.EventType][]Handler
	observers  []func(from, to State)
	health     []func(from, to string)
	started    bool
	cancel     context.CancelFunc
	done       chan struct{}

	writeMu sync.Mutex
	wake    chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dial == nil {
		cfg.Dial = NewDialer(nil)
	}
	return &Client{
		cfg:      cfg,
		clock:    cfg.Clock,
		state:    StateDisabled,
		handlers: make(map[domain.EventType][]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Handle registers h for inbound events of type t. PONG and
// CONNECTION_ESTABLISHED are consumed by the client and never dispatched.
func (c *Client) Handle(t domain.EventType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// OnStateChange registers fn to be called after every state transition.
func (c *Client) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// OnHealthChange registers fn to be called when the health label changes,
// including a pending retry being dropped while disconnected.
func (c *Client) OnHealthChange(fn func(from, to string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = append(c.health, fn)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retrying reports whether the client is disconnected with a reconnect
// scheduled, as opposed to stopped after a clean close or Disconnect.
func (c *Client) Retrying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateDisconnected && c.retrying
}

// Health labels the current state for status displays: a disconnect with a
// retry pending reads "reconnecting".
func (c *Client) Health() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return healthLabel(c.state, c.retrying)
}

// Attempts returns the number of consecutive failed connection attempts.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Start enables the client and begins connecting. The client runs until Stop
// is called or ctx ends.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.cfg.URL == "" {
		c.mu.Unlock()
		return ErrNoAddress
	}
	ctx, cancel := context.WithCancel(ctx)
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.attempts = 0
	c.intent = intentNone
	done := c.done
	c.mu.Unlock()

	go c.run(ctx, done)
	return nil
}

// Stop closes the connection cleanly and returns the client to disabled.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = c.writeClose(conn, domain.CloseNormal, "client stopped")
	}
	cancel()
	<-done
}

// Disconnect closes the connection cleanly without scheduling a retry.
func (c *Client) Disconnect() {
	c.interrupt(intentDisconnect, "client disconnect")
}

// Reconnect drops any current connection and connects again with the attempt
// counter reset. It also leaves the error state.
func (c *Client) Reconnect() error {
	if !c.interrupt(intentReconnect, "client reconnect") {
		return ErrNotStarted
	}
	return nil
}

func (c *Client) interrupt(in intent, reason string) bool {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return false
	}
	c.intent = in
	if in == intentReconnect {
		c.attempts = 0
	}
	conn, cancelDial := c.conn, c.cancelDial
	c.mu.Unlock()

	if cancelDial != nil {
		cancelDial()
	}
	if conn != nil {
		_ = c.writeClose(conn, domain.CloseNormal, reason)
		_ = conn.Close()
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Send writes ev to the server. Sends are best-effort; ErrNotConnected is
// returned while there is no live connection.
func (c *Client) Send(ev domain.Event) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	if err := c.write(conn, ws.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateDisabled)

	var timer clockwork.Timer
	var retry <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		retry = nil
	}

	connect := true
	for {
		if connect {
			connect = false
			stopTimer()
			delay, again := c.connect(ctx)
			if again {
				connect = true
				continue
			}
			if delay > 0 {
				timer = c.clock.NewTimer(delay)
				retry = timer.Chan()
			}
		}

		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-retry:
			timer, retry = nil, nil
			connect = true
		case <-c.wake:
			switch c.takeIntent() {
			case intentReconnect:
				connect = true
			case intentDisconnect:
				stopTimer()
				c.setState(StateDisconnected)
			}
		}
	}
}

// connect performs one connection attempt and serves it until it ends. It
// returns the delay before the next attempt, or again when the caller asked
// for an immediate reconnect.
func (c *Client) connect(ctx context.Context) (delay time.Duration, again bool) {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelDial = cancel
	c.mu.Unlock()

	conn, err := c.cfg.Dial(dialCtx, c.cfg.URL, c.cfg.Header)

	c.mu.Lock()
	c.cancelDial = nil
	c.mu.Unlock()
	cancel()

	if err == nil {
		err = c.serve(ctx, conn)
	}
	if ctx.Err() != nil {
		return 0, false
	}

	switch c.takeIntent() {
	case intentReconnect:
		return 0, true
	case intentDisconnect:
		c.setState(StateDisconnected)
		return 0, false
	}

	var closeErr *ws.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case domain.CloseAuthenticationFailed:
			slog.Error("Stream rejected the session", "url", c.cfg.URL, "reason", closeErr.Text)
			c.setState(StateError)
			return 0, false
		case domain.CloseNormal:
			slog.Info("Stream closed by server", "url", c.cfg.URL, "reason", closeErr.Text)
			c.setState(StateDisconnected)
			return 0, false
		}
	}

	slog.Warn("Stream connection lost", "url", c.cfg.URL, "error", err)
	return c.failed()
}

func (c *Client) failed() (time.Duration, bool) {
	c.mu.Lock()
	if c.attempts >= c.cfg.MaxAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		slog.Error("Stream reconnect attempts exhausted", "url", c.cfg.URL, "attempts", attempts)
		c.setState(StateError)
		return 0, false
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	delay := Backoff(c.cfg.BaseDelay, attempt)
	c.transition(StateDisconnected, true)
	slog.Info("Stream reconnect scheduled", "attempt", attempt, "delay", delay)
	return delay, false
}

// serve owns conn until it closes: it reads and dispatches inbound messages
// while a second goroutine sends keep-alive PINGs.
func (c *Client) serve(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	if c.intent != intentNone {
		c.mu.Unlock()
		_ = conn.Close()
		return errInterrupted
	}
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()
	c.setState(StateConnected)

	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	stopKeepAlive := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepAlive(conn, stopKeepAlive)
	}()

	defer func() {
		close(stopKeepAlive)
		wg.Wait()
		stopClose()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) keepAlive(conn Conn, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()

	ping, _ := json.Marshal(domain.Event{Type: domain.EventPing})
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if err := c.write(conn, ws.TextMessage, ping); err != nil {
				slog.Debug("Stream keep-alive failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	ev, err := domain.DecodeEvent(data)
	if err != nil {
		slog.Warn("Dropping malformed stream message", "error", err)
		return
	}

	switch ev.Type {
	case domain.EventPong:
		return
	case domain.EventConnectionEstablished:
		slog.Debug("Stream connection confirmed", "payload", string(ev.Payload))
		return
	}

	c.mu.Lock()
	handlers := slices.Clone(c.handlers[ev.Type])
	c.mu.Unlock()

	if len(handlers) == 0 && ev.Type == domain.EventError {
		slog.Warn("Stream reported an error", "payload", string(ev.Payload))
		return
	}
	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (c *Client) write(conn Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) writeClose(conn Conn, code int, reason string) error {
	return c.write(conn, ws.CloseMessage, ws.FormatCloseMessage(code, reason))
}

func (c *Client) takeIntent() intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	in := c.intent
	c.intent = intentNone
	return in
}

func (c *Client) setState(to State) {
	c.transition(to, false)
}

// transition moves to the given state, recording whether a retry is pending.
func (c *Client) transition(to State, retrying bool) {
	c.mu.Lock()
	from, wasRetrying := c.state, c.retrying
	if from == to && wasRetrying == retrying {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.retrying = retrying
	var observers []func(from, to State)
	if from != to {
		observers = slices.Clone(c.observers)
	}
	health := slices.Clone(c.health)
	c.mu.Unlock()

	slog.Debug("Stream state transition", "from", from.String(), "to", to.String(), "retrying", retrying)
	for _, fn := range observers {
		fn(from, to)
	}
	fromLabel, toLabel := healthLabel(from, wasRetrying), healthLabel(to, retrying)
	if fromLabel == toLabel {
		return
	}
	for _, fn := range health {
		fn(fromLabel, toLabel)
	}
}
