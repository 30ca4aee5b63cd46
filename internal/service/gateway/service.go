package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Rtaaweer/mapa/internal/domain"
	"github.com/Rtaaweer/mapa/internal/service/track"
	"github.com/Rtaaweer/mapa/internal/ws"
)

// Service owns websocket sessions: it parses inbound envelopes, routes them
// to the tracking core, and tears group membership down on disconnect. All
// submissions are fire-and-forget telemetry; nothing is echoed back to the
// sender and no submission error crashes the connection.
type Service struct {
	track    *track.Service
	registry *ws.Registry
	logger   *slog.Logger
	validate *validator.Validate

	// disconnect, when set, is invoked with the agent id after a session
	// that identified as that agent goes away. Presence is deliberately left
	// untouched on disconnect; this hook exists so a timeout-based presence
	// decay can be attached later.
	disconnect func(agentID int64)
}

// Option customizes a gateway Service.
type Option func(*Service)

// WithDisconnectHook registers a callback for agent session teardown.
func WithDisconnectHook(fn func(agentID int64)) Option {
	return func(s *Service) { s.disconnect = fn }
}

// New constructs the gateway.
func New(trackSvc *track.Service, registry *ws.Registry, logger *slog.Logger, opts ...Option) *Service {
	if logger != nil {
		logger = logger.With("component", "gateway")
	} else {
		logger = slog.Default()
	}
	s := &Service{
		track:    trackSvc,
		registry: registry,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// session is the per-connection state machine: connected, then identified as
// fleet observer and/or agent, then disconnected.
type session struct {
	id      string
	client  *ws.Client
	agentID int64 // last agent this connection submitted for, 0 if none
}

// HandleConn runs a connection's read loop until the peer goes away or ctx
// is cancelled. It must be called on its own goroutine per connection.
func (s *Service) HandleConn(ctx context.Context, conn *websocket.Conn) {
	sessionID := uuid.NewString()
	sess := &session{
		id:     sessionID,
		client: ws.NewClient(sessionID, conn, s.logger),
	}
	s.logger.Info("session connected", "session_id", sess.id)

	defer func() {
		s.registry.Leave(sess.client)
		sess.client.Close()
		s.logger.Info("session disconnected", "session_id", sess.id)
		if s.disconnect != nil && sess.agentID != 0 {
			s.disconnect(sess.agentID)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.client.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, sess, raw)
	}
}

func (s *Service) dispatch(ctx context.Context, sess *session, raw []byte) {
	head, err := decode[envelope](raw)
	if err != nil {
		s.logger.Warn("malformed envelope dropped", "session_id", sess.id, "error", err)
		return
	}
	switch head.Type {
	case typeJoinFleet:
		s.registry.JoinFleet(sess.client)
		s.logger.Info("joined fleet group", "session_id", sess.id)
	case typeJoinAgent:
		payload, err := decode[joinAgentPayload](raw)
		if err == nil {
			err = s.validate.Struct(payload)
		}
		if err != nil {
			s.logger.Warn("invalid join-agent dropped", "session_id", sess.id, "error", err)
			return
		}
		s.registry.JoinAgent(sess.client, payload.AgentID)
		s.logger.Info("joined agent group", "session_id", sess.id, "agent_id", payload.AgentID)
	case typeSubmitPosition:
		s.handleSubmitPosition(ctx, sess, raw)
	case typeSetPresence:
		s.handleSetPresence(ctx, sess, raw)
	default:
		s.logger.Warn("unknown envelope type dropped", "session_id", sess.id, "envelope_type", head.Type)
	}
}

func (s *Service) handleSubmitPosition(ctx context.Context, sess *session, raw []byte) {
	payload, err := decode[submitPositionPayload](raw)
	if err == nil {
		err = s.validate.Struct(payload)
	}
	if err != nil {
		s.logger.Warn("invalid position submission dropped", "session_id", sess.id, "error", err)
		return
	}

	sub := track.PositionSubmission{
		AgentID:    payload.AgentID,
		Latitude:   *payload.Latitude,
		Longitude:  *payload.Longitude,
		Accuracy:   payload.Accuracy,
		Speed:      payload.Speed,
		Presence:   domain.Presence(payload.Presence),
		CapturedAt: payload.capturedTime(),
	}
	if _, err := s.track.SubmitPosition(ctx, sub); err != nil {
		s.logSubmissionError(sess, "position submission dropped", payload.AgentID, err)
		return
	}
	sess.agentID = payload.AgentID
}

func (s *Service) handleSetPresence(ctx context.Context, sess *session, raw []byte) {
	payload, err := decode[setPresencePayload](raw)
	if err == nil {
		err = s.validate.Struct(payload)
	}
	if err != nil {
		s.logger.Warn("invalid presence command dropped", "session_id", sess.id, "error", err)
		return
	}

	if _, err := s.track.SetPresence(ctx, payload.AgentID, domain.Presence(payload.Presence)); err != nil {
		s.logSubmissionError(sess, "presence command dropped", payload.AgentID, err)
		return
	}
	sess.agentID = payload.AgentID
}

// logSubmissionError maps the error taxonomy to log levels: stale reports
// are routine and land at debug, everything else is a misbehaving client.
func (s *Service) logSubmissionError(sess *session, msg string, agentID int64, err error) {
	switch {
	case errors.Is(err, track.ErrStaleReport):
		s.logger.Debug(msg, "session_id", sess.id, "agent_id", agentID, "reason", "stale")
	case errors.Is(err, track.ErrUnknownAgent), errors.Is(err, track.ErrDispatcherRole):
		s.logger.Warn(msg, "session_id", sess.id, "agent_id", agentID, "error", err)
	default:
		s.logger.Error(msg, "session_id", sess.id, "agent_id", agentID, "error", err)
	}
}
