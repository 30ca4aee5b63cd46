package track

import (
	"testing"
	"time"
)

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestRecencyFilterFirstReportAccepted(t *testing.T) {
	f := NewRecencyFilter()
	if !f.Accept(5, ts(100)) {
		t.Fatal("expected first report for an agent to be accepted")
	}
	if _, ok := f.LastAccepted(5); ok {
		t.Fatal("Accept must not record a watermark")
	}
}

func TestRecencyFilterStrictInequality(t *testing.T) {
	f := NewRecencyFilter()
	if !f.Admit(5, ts(100)) {
		t.Fatal("expected first admit to succeed")
	}
	if f.Admit(5, ts(100)) {
		t.Fatal("equal timestamps are duplicates and must be rejected")
	}
	if f.Admit(5, ts(99)) {
		t.Fatal("older timestamps must be rejected")
	}
	if !f.Admit(5, ts(101)) {
		t.Fatal("newer timestamp must be accepted")
	}
}

func TestRecencyFilterOutOfOrderScenario(t *testing.T) {
	// agent 5 reports captured at 100, then a late report captured at 50,
	// then a fresh one at 150.
	f := NewRecencyFilter()
	if !f.Admit(5, ts(100)) {
		t.Fatal("report at 100 should be accepted")
	}
	if f.Admit(5, ts(50)) {
		t.Fatal("report at 50 arrived late and must be rejected")
	}
	last, ok := f.LastAccepted(5)
	if !ok || !last.Equal(ts(100)) {
		t.Fatalf("watermark should still be 100, got %v", last)
	}
	if !f.Admit(5, ts(150)) {
		t.Fatal("report at 150 should be accepted")
	}
}

func TestRecencyFilterAgentsIndependent(t *testing.T) {
	f := NewRecencyFilter()
	if !f.Admit(1, ts(500)) {
		t.Fatal("agent 1 first report should be accepted")
	}
	if !f.Admit(2, ts(10)) {
		t.Fatal("agent 2 state must be independent of agent 1")
	}
}

func TestRecencyFilterRecord(t *testing.T) {
	f := NewRecencyFilter()
	f.Record(7, ts(300))
	if f.Accept(7, ts(300)) {
		t.Fatal("recorded watermark must gate equal timestamps")
	}
	if !f.Accept(7, ts(301)) {
		t.Fatal("recorded watermark must admit newer timestamps")
	}
}
