package models

import "time"

// ConnectionEvent is a persisted relay lifecycle or traffic event
type ConnectionEvent struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Kind         string    `json:"kind" gorm:"type:varchar(16);index"`
	ConnectionID uint64    `json:"connection_id" gorm:"index"`
	SessionID    string    `json:"session_id,omitempty" gorm:"type:varchar(128)"`
	RemoteAddr   string    `json:"remote_addr,omitempty" gorm:"type:varchar(64)"`
	PayloadKind  string    `json:"payload_kind,omitempty" gorm:"type:varchar(8)"`
	Delivered    int       `json:"delivered"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

// TableName overrides the table name
func (ConnectionEvent) TableName() string {
	return "connection_events"
}

// KindCount is one row of an event count grouped by kind
type KindCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}
