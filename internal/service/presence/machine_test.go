package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/Rtaaweer/mapa/internal/domain"
)

func TestMachineSetEmitsEvent(t *testing.T) {
	m := NewMachine()
	stamp := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return stamp }

	event, err := m.Set(5, domain.PresenceBusy)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if event.Type != domain.EventTypePresence {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.AgentID != 5 || event.Presence != domain.PresenceBusy {
		t.Fatalf("unexpected event %+v", event)
	}
	if !event.ChangedAt.Equal(stamp) {
		t.Fatalf("unexpected changed_at %v", event.ChangedAt)
	}
	if state, ok := m.Current(5); !ok || state != domain.PresenceBusy {
		t.Fatalf("unexpected current state %v", state)
	}
}

func TestMachineTransitionsUnconstrained(t *testing.T) {
	m := NewMachine()
	sequence := []domain.Presence{
		domain.PresenceBusy,
		domain.PresenceBusy,
		domain.PresenceAvailable,
		domain.PresenceBusy,
		domain.PresenceAvailable,
	}
	for _, state := range sequence {
		if _, err := m.Set(5, state); err != nil {
			t.Fatalf("transition to %v: %v", state, err)
		}
		if current, _ := m.Current(5); current != state {
			t.Fatalf("expected %v, got %v", state, current)
		}
	}
}

func TestMachineRejectsInvalidState(t *testing.T) {
	m := NewMachine()
	if _, err := m.Set(5, domain.Presence("offline")); !errors.Is(err, ErrInvalidPresence) {
		t.Fatalf("expected ErrInvalidPresence, got %v", err)
	}
	if _, ok := m.Current(5); ok {
		t.Fatal("invalid command must not create state")
	}
}

func TestMachineSeedDoesNotOverwrite(t *testing.T) {
	m := NewMachine()
	m.Seed(5, domain.PresenceAvailable)
	if _, err := m.Set(5, domain.PresenceBusy); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.Seed(5, domain.PresenceAvailable)
	if state, _ := m.Current(5); state != domain.PresenceBusy {
		t.Fatalf("seed must not overwrite live state, got %v", state)
	}
}

func TestMachineObserveIsDisplayOnly(t *testing.T) {
	m := NewMachine()
	m.Seed(5, domain.PresenceAvailable)
	m.Observe(5, domain.PresenceBusy)

	if state, _ := m.Current(5); state != domain.PresenceAvailable {
		t.Fatalf("observed snapshot must not change authoritative state, got %v", state)
	}
	if displayed, _ := m.Displayed(5); displayed != domain.PresenceBusy {
		t.Fatalf("expected displayed state busy, got %v", displayed)
	}

	// an explicit command resets both
	if _, err := m.Set(5, domain.PresenceAvailable); err != nil {
		t.Fatalf("set: %v", err)
	}
	if displayed, _ := m.Displayed(5); displayed != domain.PresenceAvailable {
		t.Fatalf("command should win over stale snapshot, got %v", displayed)
	}
}

func TestMachineDisplayedFallsBackToAuthoritative(t *testing.T) {
	m := NewMachine()
	m.Seed(7, domain.PresenceAvailable)
	if displayed, ok := m.Displayed(7); !ok || displayed != domain.PresenceAvailable {
		t.Fatalf("expected fallback to seeded state, got %v", displayed)
	}
}
