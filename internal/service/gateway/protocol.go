package gateway

import (
	"encoding/json"
	"time"
)

// Inbound envelope types.
const (
	typeJoinFleet      = "join-fleet"
	typeJoinAgent      = "join-agent"
	typeSubmitPosition = "submit-position"
	typeSetPresence    = "set-presence"
)

// envelope carries the type discriminator; payloads are decoded per type.
type envelope struct {
	Type string `json:"type"`
}

type joinAgentPayload struct {
	AgentID int64 `json:"agent_id" validate:"required,gt=0"`
}

// submitPositionPayload mirrors the telemetry the field client emits.
// Latitude and longitude are pointers so that absent and zero are
// distinguishable; a non-numeric value fails JSON decoding outright.
type submitPositionPayload struct {
	AgentID    int64    `json:"agent_id" validate:"required,gt=0"`
	Latitude   *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude  *float64 `json:"longitude" validate:"required,min=-180,max=180"`
	Accuracy   *float64 `json:"accuracy"`
	Speed      *float64 `json:"speed"`
	Presence   string   `json:"presence" validate:"omitempty,oneof=available busy"`
	CapturedAt int64    `json:"captured_at"` // epoch milliseconds, 0 = unset
}

type setPresencePayload struct {
	AgentID  int64  `json:"agent_id" validate:"required,gt=0"`
	Presence string `json:"presence" validate:"required,oneof=available busy"`
}

// capturedTime converts the client's epoch-millisecond stamp; the zero time
// signals "stamp at receipt".
func (p submitPositionPayload) capturedTime() time.Time {
	if p.CapturedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.CapturedAt).UTC()
}

func decode[T any](raw []byte) (T, error) {
	var payload T
	err := json.Unmarshal(raw, &payload)
	return payload, err
}
