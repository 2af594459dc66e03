// ABOUTME: Project and milestone reads for the project-delay alert.
// ABOUTME: Overdue means planned_date in the past on a non-completed milestone of an active project.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetProject returns the project with the given id, or (nil, nil) if it does
// not exist.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, name, status, delivery_date FROM projects WHERE id = $1`,
		id).Scan(&p.ID, &p.ClientID, &p.Name, &p.Status, &p.DeliveryDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// GetClient returns the client with the given id, or (nil, nil) if it does
// not exist.
func (s *Store) GetClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	var c Client
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, phone FROM clients WHERE id = $1`,
		id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", id, err)
	}
	return &c, nil
}

// ListPendingMilestones returns the pending milestones of a project ordered
// by planned date.
func (s *Store) ListPendingMilestones(ctx context.Context, projectID uuid.UUID) ([]Milestone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, status, planned_date FROM milestones
		 WHERE project_id = $1 AND status = $2
		 ORDER BY planned_date`, projectID, MilestonePending)
	if err != nil {
		return nil, fmt.Errorf("list pending milestones: %w", err)
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Status, &m.PlannedDate); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListDelayedProjects returns active projects that have at least one pending
// milestone whose planned date is strictly before asOf.
func (s *Store) ListDelayedProjects(ctx context.Context, asOf time.Time) ([]Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p.id, p.client_id, p.name, p.status, p.delivery_date
		 FROM projects p
		 JOIN milestones m ON m.project_id = p.id
		 WHERE p.status = $1 AND m.status = $2 AND m.planned_date < $3
		 ORDER BY p.name`, ProjectActive, MilestonePending, asOf)
	if err != nil {
		return nil, fmt.Errorf("list delayed projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Name, &p.Status, &p.DeliveryDate); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
