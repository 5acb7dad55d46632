package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrConnectionClosed is returned when writing to a connection that is no longer OPEN.
	ErrConnectionClosed = errors.New("relay: connection closed")
	// ErrQueueFull is returned when a peer does not drain its outbound queue fast enough.
	ErrQueueFull = errors.New("relay: send queue full")
)

// ConnectionID is assigned by the Registry; it is never taken from the remote peer.
type ConnectionID uint64

// State is the lifecycle state of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transport is the write side of a message-framed connection.
// *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionOptions tunes the outbound side of a Connection.
type ConnectionOptions struct {
	RemoteAddr   string
	WriteTimeout time.Duration
	PingInterval time.Duration // 0 disables keepalive pings
	QueueSize    int
}

// Connection is a live signaling session. All writes to the transport happen
// on a single writer goroutine fed by a bounded queue, so a slow peer never
// blocks the goroutine that relays to it.
type Connection struct {
	id          ConnectionID
	remoteAddr  string
	connectedAt time.Time
	transport   Transport
	opts        ConnectionOptions

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
	state     atomic.Int32
	relayed   atomic.Uint64

	mu        sync.RWMutex
	sessionID string
	closeErr  error
}

// NewConnection wraps a transport in the CONNECTING state.
func NewConnection(t Transport, opts ConnectionOptions) *Connection {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Connection{
		remoteAddr:  opts.RemoteAddr,
		connectedAt: time.Now(),
		transport:   t,
		opts:        opts,
		send:        make(chan []byte, opts.QueueSize),
		done:        make(chan struct{}),
	}
}

func (c *Connection) ID() ConnectionID       { return c.id }
func (c *Connection) RemoteAddr() string     { return c.remoteAddr }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }
func (c *Connection) State() State           { return State(c.state.Load()) }

// Relayed is the number of envelopes written to this peer.
func (c *Connection) Relayed() uint64 { return c.relayed.Load() }

// SessionID returns the identifier declared by the peer in its first valid
// envelope, or "" before that.
func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Err returns the write error that closed the connection, if any.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeErr
}

// bindSession records the peer's sessionId once. It reports whether this call bound it.
func (c *Connection) bindSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return false
	}
	c.sessionID = sessionID
	return true
}

// open moves CONNECTING to OPEN and starts the writer.
func (c *Connection) open() {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	c.startOnce.Do(func() { go c.writeLoop() })
}

// Enqueue hands msg to the writer without blocking.
func (c *Connection) Enqueue(msg []byte) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrQueueFull
	}
}

// Close sends a close frame (best effort) and tears down the transport.
// It is safe to call from any goroutine, any number of times.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.beginClose()
		c.teardown(code, reason)
	})
}

// closeAsync moves the connection to CLOSING at once and sends the close
// frame from another goroutine.
func (c *Connection) closeAsync(code int, reason string) {
	c.closeOnce.Do(func() {
		c.beginClose()
		go c.teardown(code, reason)
	})
}

func (c *Connection) beginClose() {
	for {
		cur := c.state.Load()
		if cur == int32(StateClosed) || c.state.CompareAndSwap(cur, int32(StateClosing)) {
			break
		}
	}
	close(c.done)
}

func (c *Connection) teardown(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
	_ = c.transport.Close()
}

// markClosed is the terminal transition, done by the Registry on removal.
func (c *Connection) markClosed() {
	c.Close(websocket.CloseNormalClosure, "")
	c.state.Store(int32(StateClosed))
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.mu.Unlock()
	c.Close(websocket.CloseGoingAway, "write failed")
}

func (c *Connection) writeLoop() {
	var pings <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			if err := c.transport.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.transport.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.fail(err)
				return
			}
			c.relayed.Add(1)

		case <-pings:
			if err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// ConnectionInfo is a point-in-time description of a Connection.
type ConnectionInfo struct {
	ID          ConnectionID `json:"id"`
	SessionID   string       `json:"session_id,omitempty"`
	State       string       `json:"state"`
	RemoteAddr  string       `json:"remote_addr"`
	ConnectedAt time.Time    `json:"connected_at"`
	Relayed     uint64       `json:"relayed"`
}

// Info returns a snapshot of the connection's metadata.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:          c.id,
		SessionID:   c.SessionID(),
		State:       c.State().String(),
		RemoteAddr:  c.remoteAddr,
		ConnectedAt: c.connectedAt,
		Relayed:     c.Relayed(),
	}
}
