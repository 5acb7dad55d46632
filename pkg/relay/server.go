package relay

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tphan267/arqut-relay/pkg/logger"
)

// Options configures a Server. Zero values take the defaults below.
type Options struct {
	MaxConnections    int // 0 means unlimited
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond int
	SendQueueSize     int
	EventBuffer       int

	// CheckOrigin overrides the upgrader's origin check. Browsers embedded
	// in apps send arbitrary origins, so the default accepts all.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval < 0 {
		o.PingInterval = 0
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 50
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 1024
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return o
}

// Server accepts WebSocket connections and runs one receive loop per
// connection. It owns the connection Registry.
type Server struct {
	opts     Options
	registry *Registry
	router   *Router
	logger   *logger.Logger
	upgrader websocket.Upgrader

	events        chan Event
	droppedEvents atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a relay server.
func NewServer(opts Options, log *logger.Logger) *Server {
	opts = opts.withDefaults()
	registry := NewRegistry(opts.MaxConnections, log)

	return &Server{
		opts:     opts,
		registry: registry,
		router:   NewRouter(registry, log),
		logger:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: opts.CheckOrigin,
		},
		events: make(chan Event, opts.EventBuffer),
	}
}

// Events delivers lifecycle and traffic events. Events are dropped rather
// than blocking the relay when the consumer falls behind. The channel is
// closed by Close.
func (s *Server) Events() <-chan Event {
	return s.events
}

// DroppedEvents is the number of events discarded because Events was full.
func (s *Server) DroppedEvents() uint64 {
	return s.droppedEvents.Load()
}

// Connections returns metadata for every live connection in id order.
func (s *Server) Connections() []ConnectionInfo {
	conns := s.registry.Snapshot()
	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Info())
	}
	return out
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.registry.Len()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	c := NewConnection(ws, ConnectionOptions{
		RemoteAddr:   r.RemoteAddr,
		WriteTimeout: s.opts.WriteTimeout,
		PingInterval: s.opts.PingInterval,
		QueueSize:    s.opts.SendQueueSize,
	})

	if _, err := s.registry.Register(c); err != nil {
		s.logger.Warn("rejecting %s: %v", r.RemoteAddr, err)
		if errors.Is(err, ErrCapacity) {
			c.Close(websocket.CloseTryAgainLater, "relay at capacity")
		} else {
			c.Close(websocket.CloseGoingAway, "relay shutting down")
		}
		s.emit(Event{Kind: EventReject, RemoteAddr: r.RemoteAddr, Reason: err.Error()})
		return
	}

	s.logger.Info("connection %d opened from %s", c.ID(), c.RemoteAddr())
	s.emit(Event{Kind: EventOpen, ConnectionID: c.ID(), RemoteAddr: c.RemoteAddr()})

	reason := s.receive(c, ws)

	s.registry.Unregister(c.ID())
	s.logger.Info("connection %d closed: %s", c.ID(), reason)
	s.emit(Event{
		Kind:         EventClose,
		ConnectionID: c.ID(),
		SessionID:    c.SessionID(),
		RemoteAddr:   c.RemoteAddr(),
		Reason:       reason,
	})
}

// receive runs the read loop and returns why it ended.
func (s *Server) receive(c *Connection, ws *websocket.Conn) string {
	if s.opts.PingInterval > 0 {
		pongWait := 2*s.opts.PingInterval + s.opts.WriteTimeout
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), 2*s.opts.MessagesPerSecond)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return closeReason(c, err)
		}

		if msgType != websocket.TextMessage {
			s.logger.Warn("connection %d sent a non-text frame, ignoring", c.ID())
			s.emit(Event{Kind: EventDrop, ConnectionID: c.ID(), SessionID: c.SessionID(), Reason: "non-text frame"})
			continue
		}

		if !limiter.Allow() {
			s.logger.Warn("connection %d exceeded %d messages/s, dropping", c.ID(), s.opts.MessagesPerSecond)
			s.emit(Event{Kind: EventDrop, ConnectionID: c.ID(), SessionID: c.SessionID(), Reason: "rate limited"})
			continue
		}

		env, err := s.router.Parse(data)
		if err != nil {
			s.logger.Warn("connection %d: %v", c.ID(), err)
			s.emit(Event{Kind: EventParseError, ConnectionID: c.ID(), SessionID: c.SessionID(), Reason: err.Error()})
			continue
		}

		res, err := s.router.Route(c, env)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				return "closed during relay"
			}
			s.emit(Event{Kind: EventDrop, ConnectionID: c.ID(), SessionID: env.SessionID, Reason: err.Error()})
			continue
		}

		s.emit(Event{
			Kind:         EventRelay,
			ConnectionID: c.ID(),
			SessionID:    env.SessionID,
			Payload:      res.Kind,
			Delivered:    res.Delivered,
		})
	}
}

func closeReason(c *Connection, err error) string {
	if werr := c.Err(); werr != nil {
		return fmt.Sprintf("write failed: %v", werr)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Sprintf("closed by peer (%d)", ce.Code)
	}
	if c.State() != StateOpen {
		return "closed by relay"
	}
	return err.Error()
}

func (s *Server) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case s.events <- ev:
	default:
		s.droppedEvents.Add(1)
	}
}

// Close disconnects every peer, waits for their receive loops to finish and
// closes the Events channel. New connections are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.registry.CloseAll(websocket.CloseGoingAway, "relay shutting down")
	s.wg.Wait()
	close(s.events)
}
