package presence

import (
	"errors"
	"sync"
	"time"

	"github.com/Rtaaweer/mapa/internal/domain"
)

// ErrInvalidPresence rejects states outside the defined set.
var ErrInvalidPresence = errors.New("presence: invalid state")

// Machine tracks each agent's availability. Authoritative state moves only
// through Set (an explicit command); position reports may carry a presence
// snapshot which Observe records for display but which never drives a
// transition. Any state may transition to any state, repeatedly.
type Machine struct {
	mu            sync.Mutex
	authoritative map[int64]domain.Presence
	displayed     map[int64]domain.Presence
	now           func() time.Time
}

// NewMachine returns an empty machine. Initial states come from the record
// store via Seed at startup or first contact.
func NewMachine() *Machine {
	return &Machine{
		authoritative: make(map[int64]domain.Presence),
		displayed:     make(map[int64]domain.Presence),
		now:           time.Now,
	}
}

// Seed installs a presence loaded from the record store without emitting an
// event. Seeding never overwrites a state the machine already holds.
func (m *Machine) Seed(agentID int64, state domain.Presence) {
	if !state.Valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authoritative[agentID]; !ok {
		m.authoritative[agentID] = state
	}
}

// Set applies an explicit presence command and returns the event to fan out.
// Commands are not telemetry: there is no recency gate, the most recently
// received command always wins.
func (m *Machine) Set(agentID int64, state domain.Presence) (domain.PresenceEvent, error) {
	if !state.Valid() {
		return domain.PresenceEvent{}, ErrInvalidPresence
	}
	m.mu.Lock()
	m.authoritative[agentID] = state
	m.displayed[agentID] = state
	changedAt := m.now().UTC()
	m.mu.Unlock()
	return domain.PresenceEvent{
		Type:      domain.EventTypePresence,
		AgentID:   agentID,
		Presence:  state,
		ChangedAt: changedAt,
	}, nil
}

// Observe records the presence snapshot carried by a position report. It
// only affects what observers see attached to location events.
func (m *Machine) Observe(agentID int64, state domain.Presence) {
	if !state.Valid() {
		return
	}
	m.mu.Lock()
	m.displayed[agentID] = state
	m.mu.Unlock()
}

// Current returns the authoritative state for an agent.
func (m *Machine) Current(agentID int64) (domain.Presence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.authoritative[agentID]
	return state, ok
}

// Displayed returns the presence to attach to a location event: the last
// observed snapshot if any, else the authoritative state.
func (m *Machine) Displayed(agentID int64) (domain.Presence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.displayed[agentID]; ok {
		return state, true
	}
	state, ok := m.authoritative[agentID]
	return state, ok
}
