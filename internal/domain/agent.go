package domain

import "time"

// Role classifies an account for fan-out routing. Dispatchers coordinate
// from the office and never originate position reports.
type Role string

const (
	RoleField      Role = "field"
	RoleDispatcher Role = "dispatcher"
)

// Valid reports whether the role is one of the defined values.
func (r Role) Valid() bool {
	return r == RoleField || r == RoleDispatcher
}

// Presence is an agent's explicit availability flag. It is a command-driven
// state, never derived from telemetry.
type Presence string

const (
	PresenceAvailable Presence = "available"
	PresenceBusy      Presence = "busy"
)

// Valid reports whether the presence is one of the defined values.
func (p Presence) Valid() bool {
	return p == PresenceAvailable || p == PresenceBusy
}

// Agent represents a provisioned account. Field-role agents appear on maps
// and originate position reports; presence and last-known position are the
// only attributes mutated by this service.
type Agent struct {
	ID          int64
	DisplayName string
	Role        Role
	Presence    Presence
	LastSeenAt  *time.Time
	CreatedAt   time.Time
}
