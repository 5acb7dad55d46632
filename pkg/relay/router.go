package relay

import (
	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/utils"
)

// Router decides what happens to each inbound envelope.
type Router struct {
	registry *Registry
	logger   *logger.Logger
}

// NewRouter creates a router that relays through registry.
func NewRouter(registry *Registry, log *logger.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   log,
	}
}

// RouteResult describes how an envelope was handled.
type RouteResult struct {
	Kind      PayloadKind
	Delivered int
	Failed    []ConnectionID
}

// Parse decodes a raw text frame; see Parse.
func (r *Router) Parse(raw []byte) (SignalEnvelope, error) {
	return Parse(raw)
}

// Route binds the sender's sessionId on its first envelope, classifies the
// payload and relays the raw frame to every other OPEN connection.
// Envelopes with no payload or with both payloads are dropped.
func (r *Router) Route(c *Connection, env SignalEnvelope) (RouteResult, error) {
	if c.State() != StateOpen {
		return RouteResult{}, ErrConnectionClosed
	}

	if c.bindSession(env.SessionID) {
		r.logger.Debug("connection %d bound to session %s", c.id, utils.MaskMiddle(env.SessionID, 4))
		// sessionIds are advisory; routing is by connection identity.
		if holders := r.registry.SessionHolders(env.SessionID, c.id); len(holders) > 0 {
			r.logger.Warn("session %s declared by connection %d is also used by %v",
				utils.MaskMiddle(env.SessionID, 4), c.id, holders)
		}
	} else if bound := c.SessionID(); bound != env.SessionID {
		r.logger.Warn("connection %d sent sessionId %s, bound to %s",
			c.id, utils.MaskMiddle(env.SessionID, 4), utils.MaskMiddle(bound, 4))
	}

	kind, err := env.Kind()
	if err != nil {
		r.logger.Warn("dropping envelope from connection %d: %v", c.id, err)
		return RouteResult{}, err
	}

	res := r.registry.BroadcastExcept(c.id, env.Raw())
	r.logger.Debug("relayed %s from connection %d to %d peers", kind, c.id, res.Delivered)

	return RouteResult{
		Kind:      kind,
		Delivered: res.Delivered,
		Failed:    res.Failed,
	}, nil
}
