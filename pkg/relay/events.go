package relay

import "time"

// EventKind classifies relay lifecycle and traffic events.
type EventKind string

const (
	EventOpen       EventKind = "open"
	EventClose      EventKind = "close"
	EventRelay      EventKind = "relay"
	EventDrop       EventKind = "drop"
	EventParseError EventKind = "parse_error"
	EventReject     EventKind = "reject"
)

// Event is published by the Server for telemetry consumers.
type Event struct {
	Kind         EventKind
	ConnectionID ConnectionID
	SessionID    string
	RemoteAddr   string
	Payload      PayloadKind
	Delivered    int
	Reason       string
	Time         time.Time
}
