// Package reconcile is the client-side half of the synchronization core: one
// Reconciler per observer session re-applies the recency filter locally so
// that late or duplicated deliveries never regress a rendered view. The
// original UI surfaces each carried their own copy of this logic; every
// observer now shares this one component.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/Rtaaweer/mapa/internal/domain"
	"github.com/Rtaaweer/mapa/internal/service/track"
)

// Marker is one agent's rendered state in an observer's view.
type Marker struct {
	AgentID     int64
	DisplayName string
	Latitude    float64
	Longitude   float64
	Accuracy    *float64
	Speed       *float64
	Presence    domain.Presence
	CapturedAt  time.Time
}

// LocationResult tells the rendering surface what to do with an accepted
// location event.
type LocationResult struct {
	// Accepted is false when the event was stale or duplicated for this
	// observer and the view must not change.
	Accepted bool
	// Created is true for the observer's first event for the agent: the
	// surface should create a marker rather than move one.
	Created bool
	Marker  Marker
}

// Reconciler holds an observer's local view. It starts with no prior state
// by design: an observer joining late accepts the first event it sees for
// each agent regardless of what the server already knows.
type Reconciler struct {
	mu      sync.Mutex
	filter  *track.RecencyFilter
	markers map[int64]Marker
}

// New returns an empty reconciler for a fresh observer session.
func New() *Reconciler {
	return &Reconciler{
		filter:  track.NewRecencyFilter(),
		markers: make(map[int64]Marker),
	}
}

// ApplyLocation runs the local recency filter and, when the event is fresh,
// updates the view. Replaying an already-applied event is a no-op.
func (r *Reconciler) ApplyLocation(ev domain.LocationEvent) LocationResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filter.Admit(ev.AgentID, ev.CapturedAt) {
		return LocationResult{}
	}
	prev, known := r.markers[ev.AgentID]
	hadLocation := known && !prev.CapturedAt.IsZero()
	marker := Marker{
		AgentID:     ev.AgentID,
		DisplayName: ev.DisplayName,
		Latitude:    ev.Latitude,
		Longitude:   ev.Longitude,
		Accuracy:    ev.Accuracy,
		Speed:       ev.Speed,
		Presence:    ev.Presence,
		CapturedAt:  ev.CapturedAt,
	}
	// Presence shown on a marker is only overwritten by a location event
	// that carries a snapshot; authoritative presence arrives through
	// ApplyPresence.
	if known && ev.Presence == "" {
		marker.Presence = prev.Presence
	}
	r.markers[ev.AgentID] = marker
	return LocationResult{Accepted: true, Created: !hadLocation, Marker: marker}
}

// ApplyPresence updates an agent's displayed presence unconditionally. The
// server is the sole authority for presence; commands carry no staleness
// ambiguity, so there is no recency gate here.
func (r *Reconciler) ApplyPresence(ev domain.PresenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	marker, ok := r.markers[ev.AgentID]
	if !ok {
		// Presence can arrive before any location; remember it so the first
		// marker renders the right state.
		r.markers[ev.AgentID] = Marker{AgentID: ev.AgentID, Presence: ev.Presence}
		return
	}
	marker.Presence = ev.Presence
	r.markers[ev.AgentID] = marker
}

// Marker returns the rendered state for one agent.
func (r *Reconciler) Marker(agentID int64) (Marker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	marker, ok := r.markers[agentID]
	return marker, ok
}

// Snapshot returns all markers ordered by agent id, for rendering and for
// convergence assertions in tests.
func (r *Reconciler) Snapshot() []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	markers := make([]Marker, 0, len(r.markers))
	for _, marker := range r.markers {
		markers = append(markers, marker)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].AgentID < markers[j].AgentID })
	return markers
}
