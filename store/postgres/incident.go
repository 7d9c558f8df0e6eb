package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/incident"
)

const incidentColumns = `id, instance_id, hostname, type, status, description, data, thread_id, created_at, updated_at`

var allStatuses = []incident.Status{
	incident.StatusOpen,
	incident.StatusAcknowledged,
	incident.StatusClosed,
	incident.StatusIgnored,
}

// sourcesOf lists the statuses an incident may move to status from.
func sourcesOf(status incident.Status) []string {
	var out []string
	for _, from := range allStatuses {
		if incident.CanTransition(from, status) {
			out = append(out, string(from))
		}
	}
	return out
}

// CreateIncident persists a new incident.
func (s *Store) CreateIncident(ctx context.Context, inc *incident.Incident) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inc.ID, inc.InstanceID, inc.Hostname, string(inc.Type), string(inc.Status),
		inc.Description, inc.Data, inc.ThreadID, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return manager.ErrIncidentExists
		}
		return fmt.Errorf("manager/postgres: create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (*incident.Incident, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, incidentID)
	inc, err := scanIncident(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get incident: %w", err)
	}
	return inc, nil
}

// UpdateIncidentStatus moves an incident to status. The WHERE clause
// admits only the statuses the transition may start from.
func (s *Store) UpdateIncidentStatus(ctx context.Context, incidentID string, status incident.Status) error {
	sources := sourcesOf(status)
	if len(sources) == 0 {
		return manager.ErrInvalidTransition
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE incidents SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		incidentID, string(status), sources,
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: update incident status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1)`, incidentID).Scan(&exists); err != nil {
		return fmt.Errorf("manager/postgres: update incident status: %w", err)
	}
	if !exists {
		return manager.ErrIncidentNotFound
	}
	return manager.ErrInvalidTransition
}

// SetIncidentThread records the incident's chat thread.
func (s *Store) SetIncidentThread(ctx context.Context, incidentID, threadID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET thread_id = $2, updated_at = NOW() WHERE id = $1`,
		incidentID, threadID,
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: set incident thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manager.ErrIncidentNotFound
	}
	return nil
}

// ListIncidents returns incidents newest first.
func (s *Store) ListIncidents(ctx context.Context, opts incident.ListOpts) ([]*incident.Incident, error) {
	var w where
	if opts.Status != "" {
		w.add("status = ?", string(opts.Status))
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents` + w.String() +
		` ORDER BY created_at DESC, id DESC` + w.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: list incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("manager/postgres: scan incident row: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manager/postgres: iterate incident rows: %w", err)
	}
	return out, nil
}

func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc         incident.Incident
		typ, status string
	)
	err := row.Scan(
		&inc.ID, &inc.InstanceID, &inc.Hostname, &typ, &status,
		&inc.Description, &inc.Data, &inc.ThreadID, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inc.Type = incident.Type(typ)
	inc.Status = incident.Status(status)
	return &inc, nil
}
