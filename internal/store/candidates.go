package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// UpsertCandidateParams carries one deduplicated applicant for persistence.
type UpsertCandidateParams struct {
	ConnectorID         string
	ExternalCandidateID string
	JobID               *string
	FullName            *string
	Email               *string
	Phone               *string
	Source              *string
	Raw                 map[string]any
}

// UpsertCandidate inserts or refreshes a candidate keyed on
// (external_candidate_id, connector_id). The snapshot columns
// (current_stage, last_event_at) are owned by the snapshot updater and are
// never touched here.
func (s *Store) UpsertCandidate(ctx context.Context, p UpsertCandidateParams) error {
	raw, err := marshalJSON(p.Raw)
	if err != nil {
		return fmt.Errorf("marshal candidate raw: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO candidates (id, connector_id, external_candidate_id, job_id, full_name, email, phone, source, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (external_candidate_id, connector_id) DO UPDATE SET
			job_id = COALESCE(EXCLUDED.job_id, candidates.job_id),
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			source = EXCLUDED.source,
			raw = EXCLUDED.raw,
			updated_at = NOW()
	`, uuid.New().String(), p.ConnectorID, p.ExternalCandidateID, p.JobID, p.FullName, p.Email, p.Phone, p.Source, raw)
	if err != nil {
		return fmt.Errorf("upsert candidate %s: %w", p.ExternalCandidateID, err)
	}
	return nil
}

// ResolveCandidateID maps a provider applicant id to the internal row id.
func (s *Store) ResolveCandidateID(ctx context.Context, externalCandidateID, connectorID string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM candidates WHERE external_candidate_id = $1 AND connector_id = $2
	`, externalCandidateID, connectorID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve candidate id: %w", err)
	}
	return id, true, nil
}

// CandidateSnapshot is the denormalized latest-known candidate state.
type CandidateSnapshot struct {
	CandidateID  string
	CurrentStage *string
	LastEventAt  *time.Time
}

// GetCandidateSnapshot loads the snapshot columns for one candidate.
func (s *Store) GetCandidateSnapshot(ctx context.Context, candidateID string) (CandidateSnapshot, bool, error) {
	var snap CandidateSnapshot
	var stage pgtype.Text
	var lastAt pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `
		SELECT id, current_stage, last_event_at FROM candidates WHERE id = $1
	`, candidateID).Scan(&snap.CandidateID, &stage, &lastAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CandidateSnapshot{}, false, nil
	}
	if err != nil {
		return CandidateSnapshot{}, false, fmt.Errorf("load candidate snapshot: %w", err)
	}
	snap.CurrentStage = textPtr(stage)
	snap.LastEventAt = tsPtr(lastAt)
	return snap, true, nil
}

// AdvanceCandidateSnapshot commits a stage/timestamp update only if the event
// timestamp is still the newest observed. The row is locked and last_event_at
// re-read inside the transaction so that concurrent normalize workers
// serialize here and the snapshot stays last-write-wins by event timestamp.
func (s *Store) AdvanceCandidateSnapshot(ctx context.Context, candidateID string, stage *string, eventAt time.Time, eventID string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var lastAt pgtype.Timestamptz
	err = tx.QueryRow(ctx, `
		SELECT last_event_at FROM candidates WHERE id = $1 FOR UPDATE
	`, candidateID).Scan(&lastAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock candidate row: %w", err)
	}
	if lastAt.Valid && eventAt.Before(lastAt.Time) {
		// another newer event already advanced the snapshot
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE candidates
		SET current_stage = $2,
		    last_event_at = $3,
		    raw = COALESCE(raw, '{}'::jsonb) || jsonb_build_object('lastSyncedEventId', $4::text),
		    updated_at = NOW()
		WHERE id = $1
	`, candidateID, stage, eventAt, eventID)
	if err != nil {
		return false, fmt.Errorf("update candidate snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return true, nil
}

// StageCount is a (stage, candidate count) pair from current snapshots.
type StageCount struct {
	StageName string
	Count     int
}

// CountCandidatesByStage groups a job's candidates by their current stage.
// Candidates with no stage yet are reported under "Unknown".
func (s *Store) CountCandidatesByStage(ctx context.Context, jobID, connectorID string) ([]StageCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(current_stage, 'Unknown'), COUNT(*)
		FROM candidates
		WHERE job_id = $1 AND connector_id = $2
		GROUP BY COALESCE(current_stage, 'Unknown')
	`, jobID, connectorID)
	if err != nil {
		return nil, fmt.Errorf("count candidates by stage: %w", err)
	}
	defer rows.Close()

	var counts []StageCount
	for rows.Next() {
		var c StageCount
		if err := rows.Scan(&c.StageName, &c.Count); err != nil {
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
