package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertJobParams carries one external job opening for persistence.
type UpsertJobParams struct {
	ConnectorID   string
	ExternalJobID string
	Title         *string
	Department    *string
	Location      *string
	Status        *string
	Raw           map[string]any
}

// UpsertJob inserts or refreshes a job opening keyed on
// (external_job_id, connector_id). Identity is immutable, descriptive fields
// take the latest provider values.
func (s *Store) UpsertJob(ctx context.Context, p UpsertJobParams) error {
	raw, err := marshalJSON(p.Raw)
	if err != nil {
		return fmt.Errorf("marshal job raw: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, connector_id, external_job_id, title, department, location, status, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (external_job_id, connector_id) DO UPDATE SET
			title = EXCLUDED.title,
			department = EXCLUDED.department,
			location = EXCLUDED.location,
			status = EXCLUDED.status,
			raw = EXCLUDED.raw,
			updated_at = NOW()
	`, uuid.New().String(), p.ConnectorID, p.ExternalJobID, p.Title, p.Department, p.Location, p.Status, raw)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", p.ExternalJobID, err)
	}
	return nil
}

// ResolveJobID maps a provider job id to the internal row id.
func (s *Store) ResolveJobID(ctx context.Context, externalJobID, connectorID string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM jobs WHERE external_job_id = $1 AND connector_id = $2
	`, externalJobID, connectorID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve job id: %w", err)
	}
	return id, true, nil
}

// JobRef identifies one job for reconciliation sweeps.
type JobRef struct {
	ID          string
	ConnectorID string
}

// ListJobRefs returns every known job across all connectors.
func (s *Store) ListJobRefs(ctx context.Context) ([]JobRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, connector_id FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("list job refs: %w", err)
	}
	defer rows.Close()

	var refs []JobRef
	for rows.Next() {
		var r JobRef
		if err := rows.Scan(&r.ID, &r.ConnectorID); err != nil {
			return nil, fmt.Errorf("scan job ref: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
