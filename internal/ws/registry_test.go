package ws

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	ch       chan []byte
	failSend bool
	closed   bool
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{ch: make(chan []byte, 64)}
}

func (s *recordingSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return errors.New("connection gone")
	}
	s.payloads = append(s.payloads, payload)
	s.ch <- payload
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSubscriber) wait(t *testing.T) []byte {
	t.Helper()
	select {
	case payload := <-s.ch:
		return payload
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a delivery")
		return nil
	}
}

func (s *recordingSubscriber) expectNone(t *testing.T) {
	t.Helper()
	select {
	case payload := <-s.ch:
		t.Fatalf("unexpected delivery: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryFleetBroadcast(t *testing.T) {
	r := NewRegistry()
	a := newRecordingSubscriber()
	b := newRecordingSubscriber()
	r.JoinFleet(a)
	r.JoinFleet(b)

	r.BroadcastFleet([]byte("hello"))
	if string(a.wait(t)) != "hello" || string(b.wait(t)) != "hello" {
		t.Fatal("both fleet members should receive the broadcast")
	}
}

func TestRegistryAgentGroupsAreScoped(t *testing.T) {
	r := NewRegistry()
	watcher5 := newRecordingSubscriber()
	watcher9 := newRecordingSubscriber()
	r.JoinAgent(watcher5, 5)
	r.JoinAgent(watcher9, 9)

	r.BroadcastAgent(5, []byte("agent-5"))
	if string(watcher5.wait(t)) != "agent-5" {
		t.Fatal("agent 5 watcher should receive its group broadcast")
	}
	watcher9.expectNone(t)
}

func TestRegistryConnectionMayJoinMultipleGroups(t *testing.T) {
	r := NewRegistry()
	observer := newRecordingSubscriber()
	r.JoinFleet(observer)
	r.JoinAgent(observer, 5)

	r.BroadcastFleet([]byte("fleet"))
	r.BroadcastAgent(5, []byte("agent"))
	if string(observer.wait(t)) != "fleet" {
		t.Fatal("expected fleet delivery first")
	}
	if string(observer.wait(t)) != "agent" {
		t.Fatal("expected agent delivery second")
	}
}

func TestRegistryLeaveRemovesFromAllGroups(t *testing.T) {
	r := NewRegistry()
	observer := newRecordingSubscriber()
	other := newRecordingSubscriber()
	r.JoinFleet(observer)
	r.JoinAgent(observer, 5)
	r.JoinFleet(other)

	r.Leave(observer)
	// leaving is idempotent
	r.Leave(observer)

	r.BroadcastFleet([]byte("fleet"))
	r.BroadcastAgent(5, []byte("agent"))
	observer.expectNone(t)

	// a disconnecting observer must not affect other observers
	if string(other.wait(t)) != "fleet" {
		t.Fatal("remaining observer should still receive broadcasts")
	}
}

func TestRegistryEvictsFailingConnections(t *testing.T) {
	r := NewRegistry()
	dead := newRecordingSubscriber()
	dead.failSend = true
	live := newRecordingSubscriber()
	r.JoinFleet(dead)
	r.JoinFleet(live)

	r.BroadcastFleet([]byte("one"))
	if string(live.wait(t)) != "one" {
		t.Fatal("live member should receive broadcast")
	}

	counts := r.MemberCounts()
	if counts.Fleet != 1 {
		t.Fatalf("failed member should be evicted, fleet=%d", counts.Fleet)
	}
	dead.mu.Lock()
	closed := dead.closed
	dead.mu.Unlock()
	if !closed {
		t.Fatal("evicted member should be closed")
	}
}

func TestRegistryPreservesPerConnectionOrder(t *testing.T) {
	r := NewRegistry()
	observer := newRecordingSubscriber()
	r.JoinFleet(observer)

	const n = 50
	for i := 0; i < n; i++ {
		r.BroadcastFleet([]byte(fmt.Sprintf("event-%03d", i)))
	}
	for i := 0; i < n; i++ {
		if got := string(observer.wait(t)); got != fmt.Sprintf("event-%03d", i) {
			t.Fatalf("delivery %d out of order: %s", i, got)
		}
	}
}

func TestRegistryMemberCounts(t *testing.T) {
	r := NewRegistry()
	a := newRecordingSubscriber()
	b := newRecordingSubscriber()
	r.JoinFleet(a)
	r.JoinAgent(a, 5)
	r.JoinAgent(b, 9)

	counts := r.MemberCounts()
	if counts.Fleet != 1 {
		t.Fatalf("expected 1 fleet member, got %d", counts.Fleet)
	}
	if counts.AgentGroups != 2 {
		t.Fatalf("expected 2 agent groups, got %d", counts.AgentGroups)
	}

	r.Leave(a)
	counts = r.MemberCounts()
	if counts.Fleet != 0 || counts.AgentGroups != 1 {
		t.Fatalf("unexpected counts after leave: %+v", counts)
	}
}
