package providers

import (
	"time"

	"github.com/tphan267/arqut-relay/pkg/models"
	"github.com/tphan267/arqut-relay/pkg/relay"
)

// RelayProvider exposes the running signaling relay
type RelayProvider interface {
	// Addr returns the address the relay listens on, once started
	Addr() string
	// Connections returns metadata for every live connection
	Connections() []relay.ConnectionInfo
	// ConnectionCount returns the number of live connections
	ConnectionCount() int
	// Events delivers relay lifecycle and traffic events
	Events() <-chan relay.Event
	// DroppedEvents is the number of events lost to a slow consumer
	DroppedEvents() uint64
}

// TelemetryProvider aggregates and persists relay events
type TelemetryProvider interface {
	// Stats returns counters since startup
	Stats() Stats
	// RecentEvents returns stored events newest first; kind filters when non-empty
	RecentEvents(limit int, kind string) ([]*models.ConnectionEvent, error)
	// ConnectionEvents returns the stored events of one connection, oldest first
	ConnectionEvents(connectionID uint64) ([]*models.ConnectionEvent, error)
	// ClearEvents deletes the stored event log
	ClearEvents() error
}

// Stats contains relay counters since startup
type Stats struct {
	StartedAt       time.Time         `json:"started_at"`
	Uptime          string            `json:"uptime"`
	LiveConnections int               `json:"live_connections"`
	PeakConnections int               `json:"peak_connections"`
	Events          map[string]uint64 `json:"events"`
	Payloads        map[string]uint64 `json:"payloads"`
	Delivered       uint64            `json:"delivered"`
	DroppedEvents   uint64            `json:"dropped_events"`
	// Stored counts the events currently kept in the event log, per kind
	Stored map[string]int64 `json:"stored"`
}
