package reconcile

import (
	"testing"
	"time"

	"github.com/Rtaaweer/mapa/internal/domain"
)

func locationEvent(agentID int64, lat, lng float64, sec int64) domain.LocationEvent {
	return domain.LocationEvent{
		Type:        domain.EventTypeLocation,
		AgentID:     agentID,
		DisplayName: "Ana Flores",
		Latitude:    lat,
		Longitude:   lng,
		Presence:    domain.PresenceAvailable,
		CapturedAt:  time.Unix(sec, 0).UTC(),
	}
}

func TestApplyLocationFirstEventCreatesMarker(t *testing.T) {
	r := New()
	result := r.ApplyLocation(locationEvent(5, 20.0, -100.0, 100))
	if !result.Accepted {
		t.Fatal("first event must be accepted")
	}
	if !result.Created {
		t.Fatal("first event must create a marker")
	}

	result = r.ApplyLocation(locationEvent(5, 20.1, -100.1, 200))
	if !result.Accepted {
		t.Fatal("newer event must be accepted")
	}
	if result.Created {
		t.Fatal("subsequent events update in place")
	}
}

func TestApplyLocationIgnoresStaleAndDuplicate(t *testing.T) {
	r := New()
	r.ApplyLocation(locationEvent(5, 20.0, -100.0, 100))

	if result := r.ApplyLocation(locationEvent(5, 20.5, -100.5, 50)); result.Accepted {
		t.Fatal("older event must not regress the view")
	}
	if result := r.ApplyLocation(locationEvent(5, 20.0, -100.0, 100)); result.Accepted {
		t.Fatal("replaying the same event must be a no-op")
	}

	marker, ok := r.Marker(5)
	if !ok || marker.Latitude != 20.0 {
		t.Fatalf("view regressed: %+v", marker)
	}
}

func TestObserversConvergeRegardlessOfJoinTime(t *testing.T) {
	events := []domain.LocationEvent{
		locationEvent(5, 20.0, -100.0, 100),
		locationEvent(5, 20.1, -100.1, 300),
		locationEvent(9, 31.0, -99.0, 150),
		locationEvent(5, 20.05, -100.05, 200), // late delivery
		locationEvent(9, 31.1, -99.1, 250),
	}

	early := New()
	for _, ev := range events {
		early.ApplyLocation(ev)
	}

	// the late observer missed the first two events, then saw a replay of
	// the whole stream
	late := New()
	for _, ev := range events[2:] {
		late.ApplyLocation(ev)
	}
	for _, ev := range events {
		late.ApplyLocation(ev)
	}

	a, b := early.Snapshot(), late.Snapshot()
	if len(a) != len(b) {
		t.Fatalf("observers diverged: %d vs %d markers", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("marker %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
	if a[0].CapturedAt != time.Unix(300, 0).UTC() {
		t.Fatalf("agent 5 should render its newest position, got %v", a[0].CapturedAt)
	}
}

func TestLateObserverAcceptsFirstSeenEvent(t *testing.T) {
	// a reconciler starts with no prior state: even an event the server
	// already superseded must be accepted as this observer's first view
	r := New()
	result := r.ApplyLocation(locationEvent(5, 20.0, -100.0, 50))
	if !result.Accepted || !result.Created {
		t.Fatal("late observer must accept the first event it sees")
	}
}

func TestApplyPresenceUnconditional(t *testing.T) {
	r := New()
	r.ApplyLocation(locationEvent(5, 20.0, -100.0, 1000))

	// presence events carry no recency gate, even when their timestamp
	// looks older than the location watermark
	r.ApplyPresence(domain.PresenceEvent{
		Type:      domain.EventTypePresence,
		AgentID:   5,
		Presence:  domain.PresenceBusy,
		ChangedAt: time.Unix(10, 0).UTC(),
	})
	marker, _ := r.Marker(5)
	if marker.Presence != domain.PresenceBusy {
		t.Fatalf("presence command must apply unconditionally, got %v", marker.Presence)
	}

	r.ApplyPresence(domain.PresenceEvent{AgentID: 5, Presence: domain.PresenceAvailable})
	marker, _ = r.Marker(5)
	if marker.Presence != domain.PresenceAvailable {
		t.Fatalf("latest received command must win, got %v", marker.Presence)
	}
}

func TestPresenceBeforeLocation(t *testing.T) {
	r := New()
	r.ApplyPresence(domain.PresenceEvent{AgentID: 5, Presence: domain.PresenceBusy})

	// the first location event still counts as marker creation
	result := r.ApplyLocation(locationEvent(5, 20.0, -100.0, 100))
	if !result.Created {
		t.Fatal("first location must create the marker even after a presence event")
	}
	if result.Marker.Presence != domain.PresenceAvailable {
		// the location event carried a snapshot, which wins for display
		t.Fatalf("unexpected presence %v", result.Marker.Presence)
	}
}

func TestLocationWithoutSnapshotKeepsPresence(t *testing.T) {
	r := New()
	r.ApplyPresence(domain.PresenceEvent{AgentID: 5, Presence: domain.PresenceBusy})

	ev := locationEvent(5, 20.0, -100.0, 100)
	ev.Presence = ""
	result := r.ApplyLocation(ev)
	if result.Marker.Presence != domain.PresenceBusy {
		t.Fatalf("location without snapshot must keep displayed presence, got %v", result.Marker.Presence)
	}
}
