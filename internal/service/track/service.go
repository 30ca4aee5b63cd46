package track

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Rtaaweer/mapa/internal/domain"
	"github.com/Rtaaweer/mapa/internal/repository"
	"github.com/Rtaaweer/mapa/internal/service/presence"
	"github.com/Rtaaweer/mapa/internal/ws"
)

// Submission errors. All of them are dropped-and-logged conditions from the
// sender's point of view; callers pick a log level from the error class.
var (
	ErrUnknownAgent   = errors.New("track: unknown agent")
	ErrDispatcherRole = errors.New("track: dispatcher submissions not accepted")
	ErrStaleReport    = errors.New("track: stale report")
)

// PositionSubmission is a decoded, not yet admitted, position report.
type PositionSubmission struct {
	AgentID    int64
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	Speed      *float64
	Presence   domain.Presence
	CapturedAt time.Time
}

// Service is the ingestion core: it resolves senders against the record
// store, runs the server-side recency filter, updates the presence machine,
// persists accepted reports, and fans accepted events out through the
// registry. Processing is serialized per agent; different agents proceed in
// parallel.
type Service struct {
	agents    repository.AgentRepository
	locations repository.LocationRepository
	registry  *ws.Registry
	machine   *presence.Machine
	filter    *RecencyFilter
	logger    *slog.Logger
	now       func() time.Time

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

// New constructs the tracking service.
func New(agents repository.AgentRepository, locations repository.LocationRepository, registry *ws.Registry, machine *presence.Machine, logger *slog.Logger) *Service {
	initMetrics()
	if machine == nil {
		machine = presence.NewMachine()
	}
	if logger != nil {
		logger = logger.With("component", "track")
	} else {
		logger = slog.Default()
	}
	return &Service{
		agents:    agents,
		locations: locations,
		registry:  registry,
		machine:   machine,
		filter:    NewRecencyFilter(),
		logger:    logger,
		now:       time.Now,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// SubmitPosition processes one position report. On acceptance the event is
// broadcast before the durable write completes; a failed write is logged for
// reconciliation and does not undo the broadcast.
func (s *Service) SubmitPosition(ctx context.Context, sub PositionSubmission) (*domain.LocationEvent, error) {
	agent, err := s.resolveSender(ctx, sub.AgentID, "position")
	if err != nil {
		return nil, err
	}

	capturedAt := sub.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}
	capturedAt = capturedAt.UTC()
	receivedAt := s.now().UTC()

	unlock := s.lockAgent(agent.ID)
	if !s.filter.Admit(agent.ID, capturedAt) {
		unlock()
		countSubmission("position", resultStale)
		s.logger.Debug("stale report dropped", "agent_id", agent.ID, "captured_at", capturedAt)
		return nil, ErrStaleReport
	}
	if sub.Presence.Valid() {
		s.machine.Observe(agent.ID, sub.Presence)
	}
	displayed, ok := s.machine.Displayed(agent.ID)
	if !ok {
		displayed = agent.Presence
	}
	event := &domain.LocationEvent{
		Type:        domain.EventTypeLocation,
		AgentID:     agent.ID,
		DisplayName: agent.DisplayName,
		Latitude:    sub.Latitude,
		Longitude:   sub.Longitude,
		Accuracy:    sub.Accuracy,
		Speed:       sub.Speed,
		Presence:    displayed,
		CapturedAt:  capturedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		unlock()
		return nil, err
	}
	s.registry.BroadcastFleet(payload)
	s.registry.BroadcastAgent(agent.ID, payload)
	unlock()
	countSubmission("position", resultAccepted)
	countBroadcast(domain.EventTypeLocation)

	report := &domain.PositionReport{
		AgentID:    agent.ID,
		Latitude:   sub.Latitude,
		Longitude:  sub.Longitude,
		Accuracy:   sub.Accuracy,
		Speed:      sub.Speed,
		Presence:   displayed,
		CapturedAt: capturedAt,
		ReceivedAt: receivedAt,
	}
	if err := s.locations.AppendLocation(ctx, report); err != nil {
		// Freshness over durability: the event already went out. The gap is
		// left for offline reconciliation.
		countWriteFailure()
		s.logger.Error("location write failed after broadcast", "agent_id", agent.ID, "captured_at", capturedAt, "error", err)
	}
	if err := s.agents.TouchAgent(ctx, agent.ID, receivedAt); err != nil {
		s.logger.Debug("last-seen stamp failed", "agent_id", agent.ID, "error", err)
	}
	return event, nil
}

// SetPresence applies an explicit presence command, persists it to the
// record store, and broadcasts the transition to the fleet group.
func (s *Service) SetPresence(ctx context.Context, agentID int64, state domain.Presence) (*domain.PresenceEvent, error) {
	agent, err := s.resolveSender(ctx, agentID, "presence")
	if err != nil {
		return nil, err
	}

	event, err := s.machine.Set(agent.ID, state)
	if err != nil {
		countSubmission("presence", resultInvalid)
		return nil, err
	}
	if err := s.agents.UpdateAgentPresence(ctx, agent.ID, state); err != nil {
		countWriteFailure()
		s.logger.Error("presence write failed", "agent_id", agent.ID, "presence", state, "error", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	s.registry.BroadcastFleet(payload)
	countSubmission("presence", resultAccepted)
	countBroadcast(domain.EventTypePresence)
	return &event, nil
}

// FieldAgents lists field-role agents. Dispatcher-role accounts never appear
// in fleet views.
func (s *Service) FieldAgents(ctx context.Context) ([]domain.Agent, error) {
	return s.agents.ListAgentsByRole(ctx, domain.RoleField)
}

// LatestPosition returns the newest accepted report for an agent.
func (s *Service) LatestPosition(ctx context.Context, agentID int64) (*domain.PositionReport, error) {
	return s.locations.LatestLocation(ctx, agentID)
}

// LatestPositions returns the newest accepted report per agent, newest
// first.
func (s *Service) LatestPositions(ctx context.Context) ([]domain.PositionReport, error) {
	return s.locations.LatestLocations(ctx)
}

// PositionHistory returns recent reports for an agent, newest first.
func (s *Service) PositionHistory(ctx context.Context, agentID int64, limit int) ([]domain.PositionReport, error) {
	return s.locations.LocationHistory(ctx, agentID, limit)
}

// Registry exposes the room registry for connection handlers.
func (s *Service) Registry() *ws.Registry {
	return s.registry
}

// resolveSender validates the submitting identity. A dispatcher-role sender
// is always a client misconfiguration, so it is dropped rather than treated
// as a transient failure.
func (s *Service) resolveSender(ctx context.Context, agentID int64, kind string) (*domain.Agent, error) {
	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			countSubmission(kind, resultUnknownAgent)
			return nil, ErrUnknownAgent
		}
		return nil, err
	}
	if agent.Role == domain.RoleDispatcher {
		countSubmission(kind, resultDispatcher)
		return nil, ErrDispatcherRole
	}
	s.machine.Seed(agent.ID, agent.Presence)
	return agent, nil
}

// lockAgent serializes the admit-and-broadcast sequence for one agent id so
// the filter's check-then-record is atomic with publication order.
func (s *Service) lockAgent(agentID int64) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[agentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[agentID] = mu
	}
	s.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}
