package relay

import (
	"errors"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tphan267/arqut-relay/pkg/logger"
)

// ErrCapacity is returned by Register when the relay is at its connection limit.
var ErrCapacity = errors.New("relay: at capacity")

// Registry tracks the live connections of one relay Server.
type Registry struct {
	mu       sync.RWMutex
	conns    map[ConnectionID]*Connection
	nextID   ConnectionID
	maxConns int
	closed   bool
	logger   *logger.Logger
}

// NewRegistry creates an empty registry. maxConns <= 0 means unlimited.
func NewRegistry(maxConns int, log *logger.Logger) *Registry {
	return &Registry{
		conns:    make(map[ConnectionID]*Connection),
		maxConns: maxConns,
		logger:   log,
	}
}

// Register assigns an id to c, opens it and starts its writer. It returns
// ErrConnectionClosed once CloseAll has run.
func (r *Registry) Register(c *Connection) (ConnectionID, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		r.mu.Unlock()
		return 0, ErrCapacity
	}
	r.nextID++
	c.id = r.nextID
	r.conns[c.id] = c
	total := len(r.conns)
	r.mu.Unlock()

	c.open()
	r.logger.Debug("connection %d registered from %s (%d live)", c.id, c.remoteAddr, total)
	return c.id, nil
}

// Unregister removes a connection and moves it to CLOSED. Unknown ids are
// ignored, so concurrent close paths may all call it. It reports whether
// this call removed the connection.
func (r *Registry) Unregister(id ConnectionID) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}
	c.markClosed()
	r.logger.Debug("connection %d unregistered (%d live)", id, total)
	return true
}

// Get looks up a live connection.
func (r *Registry) Get(id ConnectionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the live connections ordered by id (registration order).
// The slice is a copy and stays valid while connections come and go.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Connection) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return out
}

// SessionHolders returns the ids of live connections other than except that
// declared sessionID.
func (r *Registry) SessionHolders(sessionID string, except ConnectionID) []ConnectionID {
	var ids []ConnectionID
	for _, c := range r.Snapshot() {
		if c.id != except && c.SessionID() == sessionID {
			ids = append(ids, c.id)
		}
	}
	return ids
}

// BroadcastResult summarises one BroadcastExcept call.
type BroadcastResult struct {
	Delivered int
	Failed    []ConnectionID
}

// BroadcastExcept queues msg to every OPEN connection except senderID.
// A peer that cannot accept the message is closed and unregistered; the
// remaining peers are unaffected. Peers closing concurrently are skipped.
func (r *Registry) BroadcastExcept(senderID ConnectionID, msg []byte) BroadcastResult {
	var res BroadcastResult

	for _, c := range r.Snapshot() {
		if c.id == senderID || c.State() != StateOpen {
			continue
		}

		err := c.Enqueue(msg)
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrConnectionClosed):
		default:
			r.logger.Warn("dropping connection %d: %v", c.id, err)
			// its writer may hold the socket, so the close frame must not
			// hold up the peers after it
			c.closeAsync(websocket.CloseTryAgainLater, "send queue overflow")
			r.Unregister(c.id)
			res.Failed = append(res.Failed, c.id)
		}
	}

	return res
}

// CloseAll closes and removes every connection. Later Register calls fail.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, c := range r.Snapshot() {
		c.Close(code, reason)
		r.Unregister(c.id)
	}
}
