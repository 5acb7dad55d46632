package signaling

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrNotConnected is returned when sending while no relay connection is up.
	ErrNotConnected = errors.New("signaling: not connected to relay")
	// ErrOutboundFull is returned when the outbound queue cannot take another envelope.
	ErrOutboundFull = errors.New("signaling: outbound queue full")
)

// envelope is the wire format shared by every peer on a relay.
type envelope struct {
	SessionID string                     `json:"sessionId"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICE       *webrtc.ICECandidateInit   `json:"ice,omitempty"`
}

// Signal is an envelope received from another peer. Exactly one of
// Description and Candidate is set.
type Signal struct {
	SessionID   string
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// OnConnectHandler is a function called each time the client (re)connects
type OnConnectHandler func(ctx context.Context) error
