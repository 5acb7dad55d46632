package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/utils"
)

const (
	writeWait       = 5 * time.Second
	defaultPingWait = 30 * time.Second
	maxBackoff      = 60 * time.Second
)

// Client connects one WebRTC peer to a signaling relay. It tags outgoing
// envelopes with its session id and drops envelopes carrying that id.
type Client struct {
	relayURL     string
	sessionID    string
	pingInterval time.Duration
	logger       *logger.Logger

	conn   *websocket.Conn
	connID uint64
	closed bool
	mutex  sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	signals  chan Signal
	outbound chan []byte

	onConnectHandlers []OnConnectHandler
	handlerMutex      sync.RWMutex

	reconnecting   bool
	reconnectMutex sync.Mutex
}

// NewClient creates a client for the relay at relayURL with a fresh
// random session id. http(s) URLs are converted to ws(s).
func NewClient(relayURL string, log *logger.Logger) *Client {
	return NewClientWithSession(relayURL, uuid.NewString(), log)
}

// NewClientWithSession creates a client with a caller-chosen session id.
func NewClientWithSession(relayURL, sessionID string, log *logger.Logger) *Client {
	return &Client{
		relayURL:     relayURL,
		sessionID:    sessionID,
		pingInterval: defaultPingWait,
		logger:       log,
		signals:      make(chan Signal, 64),
		outbound:     make(chan []byte, 100),
	}
}

// SessionID is the id stamped on every envelope this client sends.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Signals delivers envelopes from other peers in relay order. The channel
// is closed by Close.
func (c *Client) Signals() <-chan Signal {
	return c.signals
}

// SetPingInterval changes the keepalive period; call before Connect.
func (c *Client) SetPingInterval(d time.Duration) {
	c.pingInterval = d
}

// AddOnConnectHandler adds a handler to be called on every connection
func (c *Client) AddOnConnectHandler(handler OnConnectHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.onConnectHandlers = append(c.onConnectHandlers, handler)
}

// Connect dials the relay. If the first attempt fails the error is returned
// and the client keeps retrying in the background until Close.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connectOnce(); err != nil {
		c.logger.Warn("connection failed: %v, will retry in background", err)
		go c.reconnect()
		return err
	}
	return nil
}

func (c *Client) wsURL() string {
	u := c.relayURL
	if after, ok := strings.CutPrefix(u, "http://"); ok {
		u = "ws://" + after
	} else if after, ok := strings.CutPrefix(u, "https://"); ok {
		u = "wss://" + after
	}
	return u
}

// connectOnce performs a single connection attempt
func (c *Client) connectOnce() error {
	url := c.wsURL()
	c.logger.Info("connecting to %s as %s", url, utils.MaskMiddle(c.sessionID, 4))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(c.ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		conn.Close()
		return context.Canceled
	}
	c.conn = conn
	c.connID++
	id := c.connID
	c.wg.Add(2)
	c.mutex.Unlock()

	done := make(chan struct{})
	go c.readMessages(conn, id, done)
	go c.writeMessages(conn, done)

	c.logger.Info("connected to relay")

	c.handlerMutex.RLock()
	handlers := make([]OnConnectHandler, len(c.onConnectHandlers))
	copy(handlers, c.onConnectHandlers)
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(c.ctx); err != nil {
			c.logger.Warn("OnConnect handler error: %v", err)
		}
	}

	return nil
}

// readMessages reads envelopes until the connection fails, then triggers a
// reconnect unless the client is closing.
func (c *Client) readMessages(conn *websocket.Conn, id uint64, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	if c.pingInterval > 0 {
		pongWait := 2*c.pingInterval + writeWait
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("read error: %v", err)
			c.dropConn(id)
			go c.reconnect()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		sig, ok := c.decode(data)
		if !ok {
			continue
		}

		select {
		case c.signals <- sig:
		case <-c.ctx.Done():
			return
		}
	}
}

// decode turns a frame into a Signal, dropping our own echoes and anything
// that is not a well-formed envelope.
func (c *Client) decode(data []byte) (Signal, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("failed to unmarshal envelope: %v", err)
		return Signal{}, false
	}
	if env.SessionID == "" {
		c.logger.Warn("dropping envelope without sessionId")
		return Signal{}, false
	}
	if env.SessionID == c.sessionID {
		c.logger.Debug("dropping echo of own envelope")
		return Signal{}, false
	}
	if (env.SDP == nil) == (env.ICE == nil) {
		c.logger.Warn("dropping envelope from %s: need exactly one of sdp or ice", utils.MaskMiddle(env.SessionID, 4))
		return Signal{}, false
	}
	return Signal{SessionID: env.SessionID, Description: env.SDP, Candidate: env.ICE}, true
}

// writeMessages is the only writer on conn. It drains the outbound queue
// and sends keepalive pings.
func (c *Client) writeMessages(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	var pings <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-done:
			return
		case msg := <-c.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("failed to send envelope: %v", err)
				conn.Close()
				return
			}
		case <-pings:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// SendSessionDescription relays an offer or answer to the other peers.
func (c *Client) SendSessionDescription(desc webrtc.SessionDescription) error {
	return c.send(envelope{SessionID: c.sessionID, SDP: &desc})
}

// SendICECandidate relays a trickled ICE candidate to the other peers.
func (c *Client) SendICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.send(envelope{SessionID: c.sessionID, ICE: &candidate})
}

func (c *Client) send(env envelope) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrOutboundFull
	}
}

func (c *Client) dropConn(id uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.connID == id && c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// reconnect attempts to reconnect to the relay with exponential backoff
func (c *Client) reconnect() {
	c.reconnectMutex.Lock()
	if c.reconnecting {
		c.reconnectMutex.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMutex.Unlock()

	defer func() {
		c.reconnectMutex.Lock()
		c.reconnecting = false
		c.reconnectMutex.Unlock()
	}()

	backoff := 1 * time.Second
	attempt := 1

	for {
		if c.ctx.Err() != nil {
			return
		}

		c.logger.Info("reconnection attempt #%d...", attempt)
		if err := c.connectOnce(); err != nil {
			c.logger.Warn("reconnect failed: %v (retrying in %v)", err, backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			attempt++
			continue
		}

		c.logger.Info("reconnected on attempt #%d", attempt)
		return
	}
}

// Close disconnects from the relay, stops reconnecting and closes Signals.
func (c *Client) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.mutex.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
	}

	c.wg.Wait()
	close(c.signals)
	c.logger.Info("connection closed")
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.conn != nil
}
