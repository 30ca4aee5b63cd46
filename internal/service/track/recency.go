package track

import (
	"sync"
	"time"
)

// RecencyFilter decides whether an incoming position report supersedes the
// last one seen for its agent. The same algorithm runs server-side (guarding
// the store and fan-out) and inside every observer reconciler (guarding each
// rendered view); the two run on disjoint state on purpose, so an observer
// joining late still accepts the first report it sees.
type RecencyFilter struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

// NewRecencyFilter returns an empty filter: every agent's first report is
// accepted.
func NewRecencyFilter() *RecencyFilter {
	return &RecencyFilter{last: make(map[int64]time.Time)}
}

// Accept reports whether a report captured at the given time would supersede
// the last accepted one. Equal timestamps are duplicates, not updates.
func (f *RecencyFilter) Accept(agentID int64, capturedAt time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts(agentID, capturedAt)
}

// Record marks a report as accepted without checking it. Used when replaying
// state that was admitted elsewhere.
func (f *RecencyFilter) Record(agentID int64, capturedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[agentID] = capturedAt
}

// Admit atomically checks and records: it returns true and advances the
// agent's watermark iff capturedAt is strictly newer than the last accepted
// timestamp.
func (f *RecencyFilter) Admit(agentID int64, capturedAt time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accepts(agentID, capturedAt) {
		return false
	}
	f.last[agentID] = capturedAt
	return true
}

// LastAccepted returns the current watermark for an agent.
func (f *RecencyFilter) LastAccepted(agentID int64) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.last[agentID]
	return ts, ok
}

func (f *RecencyFilter) accepts(agentID int64, capturedAt time.Time) bool {
	last, ok := f.last[agentID]
	if !ok {
		return true
	}
	return capturedAt.After(last)
}
