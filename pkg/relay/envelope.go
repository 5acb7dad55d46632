package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadKind identifies which signaling payload an envelope carries.
type PayloadKind string

const (
	KindSessionDescription PayloadKind = "sdp"
	KindICECandidate       PayloadKind = "ice"
)

var (
	// ErrEmptyPayload is returned for envelopes that carry neither sdp nor ice.
	ErrEmptyPayload = errors.New("relay: envelope has no sdp or ice payload")
	// ErrAmbiguousPayload is returned for envelopes that carry both sdp and ice.
	ErrAmbiguousPayload = errors.New("relay: envelope carries both sdp and ice")
)

// SignalEnvelope is one signaling frame as sent by a peer:
//
//	{"sessionId": "...", "sdp": {...}}
//	{"sessionId": "...", "ice": {...}}
//
// Payloads are kept as raw JSON and never interpreted by the relay.
type SignalEnvelope struct {
	SessionID string          `json:"sessionId"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	ICE       json.RawMessage `json:"ice,omitempty"`

	raw []byte
}

// Raw returns the frame exactly as it was received. Relayed envelopes are
// forwarded verbatim.
func (e SignalEnvelope) Raw() []byte {
	return e.raw
}

// Kind reports the payload carried by the envelope.
func (e SignalEnvelope) Kind() (PayloadKind, error) {
	hasSDP := present(e.SDP)
	hasICE := present(e.ICE)

	switch {
	case hasSDP && hasICE:
		return "", ErrAmbiguousPayload
	case hasSDP:
		return KindSessionDescription, nil
	case hasICE:
		return KindICECandidate, nil
	default:
		return "", ErrEmptyPayload
	}
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// ParseError reports a frame that could not be turned into a SignalEnvelope.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay: %s: %v", e.Reason, e.Err)
	}
	return "relay: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes a text frame into a SignalEnvelope. It fails with a
// *ParseError when the frame is not a JSON object or has no sessionId.
// The returned envelope retains raw without copying it.
func Parse(raw []byte) (SignalEnvelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return SignalEnvelope{}, &ParseError{Reason: "frame is not a JSON object"}
	}

	var env SignalEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return SignalEnvelope{}, &ParseError{Reason: "malformed envelope", Err: err}
	}
	if env.SessionID == "" {
		return SignalEnvelope{}, &ParseError{Reason: "missing sessionId"}
	}

	env.raw = raw
	return env, nil
}
