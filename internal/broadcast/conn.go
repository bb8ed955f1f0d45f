package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

// Socket is the write side of a WebSocket connection.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Identity is the validated binding a connection is registered under.
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// Conn is one registered stream connection. Writes happen only on its writer
// goroutine; Send and Ping hand work to it without blocking.
type Conn struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	UserID   uuid.UUID

	socket        Socket
	clock         clockwork.Clock
	authenticated bool
	sendChannel   chan []byte
	pingChannel   chan struct{}
	doneChannel   chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	closed        atomic.Bool
	lastHeartbeat atomic.Int64
}

// NewConn wraps a socket whose session was validated as identity and starts
// its writer. A connection without both ids is never treated as authenticated.
func NewConn(socket Socket, identity Identity, clock clockwork.Clock) *Conn {
	c := &Conn{
		ID:            uuid.New(),
		TenantID:      identity.TenantID,
		UserID:        identity.UserID,
		socket:        socket,
		clock:         clock,
		authenticated: identity.TenantID != uuid.Nil && identity.UserID != uuid.Nil,
		sendChannel:   make(chan []byte, messageBufferSize),
		pingChannel:   make(chan struct{}, 1),
		doneChannel:   make(chan struct{}),
	}
	c.Touch()
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Conn) run() {
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.sendChannel:
			c.updateWriteDeadline()
			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.abort()
				return
			}
		case <-c.pingChannel:
			c.updateWriteDeadline()
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

// Send queues a text frame. It fails when the connection is closed or its
// buffer is full.
func (c *Conn) Send(data []byte) bool {
	if !c.IsOpen() {
		return false
	}
	select {
	case c.sendChannel <- data:
		return true
	default:
		return false
	}
}

// Ping queues a liveness probe; a probe already queued absorbs this one.
func (c *Conn) Ping() {
	if !c.IsOpen() {
		return
	}
	select {
	case c.pingChannel <- struct{}{}:
	default:
	}
}

// Touch records a liveness response (pong frame or application PING).
func (c *Conn) Touch() {
	c.lastHeartbeat.Store(c.clock.Now().UnixNano())
}

func (c *Conn) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}

func (c *Conn) Authenticated() bool {
	return c.authenticated
}

// Terminate drops the socket without a close frame. The reader loop then
// fails and unregisters the connection.
func (c *Conn) Terminate() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.doneChannel)
		_ = c.socket.Close()
	})
	c.wg.Wait()
}

// Close stops the writer, then sends a close frame with code and reason.
func (c *Conn) Close(code int, reason string) {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.doneChannel)

		// the writer must have exited before the close frame is written
		c.wg.Wait()

		c.updateWriteDeadline()
		_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = c.socket.Close()
	})
	c.wg.Wait()
}

// abort is Terminate from the writer goroutine itself.
func (c *Conn) abort() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.doneChannel)
		_ = c.socket.Close()
	})
}

// Socket deadlines are wall-clock instants for the network stack, so they
// use real time even when liveness runs on a fake clock.
func (c *Conn) updateWriteDeadline() {
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeDeadline))
}
