package repository

import (
	"context"
	"time"

	"github.com/Rtaaweer/mapa/internal/domain"
)

// AgentRepository is the record-store view of provisioned accounts. Agents
// are created out-of-band; this service only reads them, persists presence
// transitions, and stamps last-seen activity.
type AgentRepository interface {
	GetAgent(ctx context.Context, id int64) (*domain.Agent, error)
	ListAgentsByRole(ctx context.Context, role domain.Role) ([]domain.Agent, error)
	UpdateAgentPresence(ctx context.Context, id int64, presence domain.Presence) error
	// TouchAgent records the receipt time of the agent's latest accepted
	// submission. Best-effort bookkeeping; callers log and continue on error.
	TouchAgent(ctx context.Context, id int64, seenAt time.Time) error
}

// LocationRepository persists accepted position reports and answers
// latest/history queries.
type LocationRepository interface {
	// AppendLocation stores an accepted report. It is never consulted for
	// admission; recency filtering happens before this call.
	AppendLocation(ctx context.Context, report *domain.PositionReport) error
	// LatestLocation returns the report with the maximum captured-at for the
	// agent, ties broken by accept order (highest id wins).
	LatestLocation(ctx context.Context, agentID int64) (*domain.PositionReport, error)
	// LatestLocations returns one row per agent with at least one report,
	// newest first.
	LatestLocations(ctx context.Context) ([]domain.PositionReport, error)
	// LocationHistory returns the most recent reports for an agent, newest
	// first, at most limit rows.
	LocationHistory(ctx context.Context, agentID int64, limit int) ([]domain.PositionReport, error)
}
