package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rtaaweer/mapa/internal/domain"
	"github.com/Rtaaweer/mapa/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.AgentRepository    = (*Repository)(nil)
	_ repository.LocationRepository = (*Repository)(nil)
)

// GetAgent fetches an agent by identifier.
func (r *Repository) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	const query = `SELECT id, display_name, role, presence, last_seen_at, created_at FROM agents WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var a domain.Agent
	if err := row.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Presence, &a.LastSeenAt, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListAgentsByRole returns agents with the given role, oldest first.
func (r *Repository) ListAgentsByRole(ctx context.Context, role domain.Role) ([]domain.Agent, error) {
	const query = `SELECT id, display_name, role, presence, last_seen_at, created_at
		FROM agents
		WHERE role = $1
		ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]domain.Agent, 0)
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Presence, &a.LastSeenAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentPresence persists an accepted presence transition.
func (r *Repository) UpdateAgentPresence(ctx context.Context, id int64, presence domain.Presence) error {
	const query = `UPDATE agents SET presence = $2, last_seen_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, presence)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TouchAgent stamps the agent's last accepted activity.
func (r *Repository) TouchAgent(ctx context.Context, id int64, seenAt time.Time) error {
	const query = `UPDATE agents SET last_seen_at = $2 WHERE id = $1 AND (last_seen_at IS NULL OR last_seen_at < $2)`
	_, err := r.pool.Exec(ctx, query, id, seenAt)
	return err
}

// AppendLocation inserts an accepted position report and backfills its
// assigned id.
func (r *Repository) AppendLocation(ctx context.Context, report *domain.PositionReport) error {
	const query = `INSERT INTO agent_locations (agent_id, latitude, longitude, accuracy, speed, presence, captured_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	row := r.pool.QueryRow(ctx, query,
		report.AgentID, report.Latitude, report.Longitude,
		report.Accuracy, report.Speed, report.Presence,
		report.CapturedAt, report.ReceivedAt)
	return row.Scan(&report.ID)
}

// LatestLocation returns the newest report for an agent. Ties on captured_at
// resolve to the last accepted row.
func (r *Repository) LatestLocation(ctx context.Context, agentID int64) (*domain.PositionReport, error) {
	const query = `SELECT id, agent_id, latitude, longitude, accuracy, speed, presence, captured_at, received_at
		FROM agent_locations
		WHERE agent_id = $1
		ORDER BY captured_at DESC, id DESC
		LIMIT 1`
	row := r.pool.QueryRow(ctx, query, agentID)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return report, nil
}

// LatestLocations returns the newest report per agent, newest first. The
// backing table holds the full history, so distinctness per agent is
// enforced here rather than by the caller.
func (r *Repository) LatestLocations(ctx context.Context) ([]domain.PositionReport, error) {
	const query = `SELECT DISTINCT ON (agent_id) id, agent_id, latitude, longitude, accuracy, speed, presence, captured_at, received_at
		FROM agent_locations
		ORDER BY agent_id, captured_at DESC, id DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.PositionReport, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// DISTINCT ON forces agent_id ordering; callers want newest first.
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].CapturedAt.Equal(reports[j].CapturedAt) {
			return reports[i].CapturedAt.After(reports[j].CapturedAt)
		}
		return reports[i].ID > reports[j].ID
	})
	return reports, nil
}

// LocationHistory returns up to limit recent reports for an agent, newest
// first.
func (r *Repository) LocationHistory(ctx context.Context, agentID int64, limit int) ([]domain.PositionReport, error) {
	const query = `SELECT id, agent_id, latitude, longitude, accuracy, speed, presence, captured_at, received_at
		FROM agent_locations
		WHERE agent_id = $1
		ORDER BY captured_at DESC, id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.PositionReport, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*domain.PositionReport, error) {
	var p domain.PositionReport
	if err := row.Scan(&p.ID, &p.AgentID, &p.Latitude, &p.Longitude, &p.Accuracy, &p.Speed, &p.Presence, &p.CapturedAt, &p.ReceivedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
