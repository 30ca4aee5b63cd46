package domain

import "time"

// PositionReport is one accepted telemetry sample for an agent. Reports are
// immutable once accepted and form an append-only history per agent.
type PositionReport struct {
	ID         int64
	AgentID    int64
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	Speed      *float64
	Presence   Presence
	CapturedAt time.Time
	ReceivedAt time.Time
}

// LocationEvent is the normalized fan-out payload published to observers on
// every accepted position report. The presence field is a display snapshot
// only; authoritative presence travels in PresenceEvent.
type LocationEvent struct {
	Type        string    `json:"type"`
	AgentID     int64     `json:"agent_id"`
	DisplayName string    `json:"display_name"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    *float64  `json:"accuracy"`
	Speed       *float64  `json:"speed"`
	Presence    Presence  `json:"presence"`
	CapturedAt  time.Time `json:"captured_at"`
}

// PresenceEvent is published to the fleet group on every accepted presence
// transition.
type PresenceEvent struct {
	Type      string    `json:"type"`
	AgentID   int64     `json:"agent_id"`
	Presence  Presence  `json:"presence"`
	ChangedAt time.Time `json:"changed_at"`
}

// Outbound event type discriminators.
const (
	EventTypeLocation = "location-event"
	EventTypePresence = "presence-event"
)
