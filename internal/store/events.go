package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

// InsertEvent attempts the initial insert of a normalized event, keyed on
// (provider_event_id, connector_id). Returns inserted=false when the row
// already exists; the caller then decides between merge and drop.
func (s *Store) InsertEvent(ctx context.Context, ev models.NormalizedEvent, candidateID, jobID *string, normalized map[string]any) (string, bool, error) {
	raw, err := marshalJSON(ev.Raw)
	if err != nil {
		return "", false, fmt.Errorf("marshal event raw: %w", err)
	}
	norm, err := marshalJSON(normalized)
	if err != nil {
		return "", false, fmt.Errorf("marshal event normalized: %w", err)
	}

	id := uuid.New().String()
	var insertedID string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO candidate_events
			(id, connector_id, provider_event_id, provider, type, candidate_id, job_id,
			 stage_from, stage_to, actor, ts, raw_payload, normalized, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (provider_event_id, connector_id) DO NOTHING
		RETURNING id
	`, id, ev.ConnectorID, ev.ProviderEventID, ev.Provider, ev.EventType, candidateID, jobID,
		emptyToNil(ev.StageFrom), emptyToNil(ev.StageTo), emptyToNil(ev.Actor), ev.Timestamp, raw, norm).Scan(&insertedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("insert candidate event: %w", err)
	}
	return insertedID, true, nil
}

// GetEventByProviderID fetches the existing row for a duplicate delivery.
func (s *Store) GetEventByProviderID(ctx context.Context, providerEventID, connectorID string) (models.CandidateEvent, bool, error) {
	return s.scanEvent(s.pool.QueryRow(ctx, `
		SELECT id, connector_id, provider_event_id, provider, type, candidate_id, job_id,
		       stage_from, stage_to, actor, ts, raw_payload, normalized, created_at
		FROM candidate_events
		WHERE provider_event_id = $1 AND connector_id = $2
	`, providerEventID, connectorID))
}

// GetEvent fetches one event by internal id.
func (s *Store) GetEvent(ctx context.Context, id string) (models.CandidateEvent, bool, error) {
	return s.scanEvent(s.pool.QueryRow(ctx, `
		SELECT id, connector_id, provider_event_id, provider, type, candidate_id, job_id,
		       stage_from, stage_to, actor, ts, raw_payload, normalized, created_at
		FROM candidate_events
		WHERE id = $1
	`, id))
}

// mergedEvent carries the column values a replay merge writes.
type mergedEvent struct {
	StageFrom  *string
	StageTo    *string
	Raw        map[string]any
	Normalized map[string]any
}

// mergeEventData combines a stored event with a replayed delivery: stage
// fields fall back to the stored values, the metadata bags are merged with the
// replay winning per key, and the raw payload is replaced when present.
func mergeEventData(existing models.CandidateEvent, ev models.NormalizedEvent) mergedEvent {
	merged := map[string]any{}
	for k, v := range existing.Normalized {
		merged[k] = v
	}
	meta, _ := merged["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	merged["metadata"] = meta

	raw := existing.RawPayload
	if ev.Raw != nil {
		raw = ev.Raw
	}

	stageTo := existing.StageTo
	if ev.StageTo != "" {
		stageTo = &ev.StageTo
	}
	stageFrom := existing.StageFrom
	if ev.StageFrom != "" {
		stageFrom = &ev.StageFrom
	}
	return mergedEvent{StageFrom: stageFrom, StageTo: stageTo, Raw: raw, Normalized: merged}
}

// MergeEvent overwrites an existing event row with the fields of a replayed
// delivery, guarded on the stored timestamp still being older. The guard runs
// inside the UPDATE itself, so two concurrent replays serialize on the row and
// only the one carrying the higher timestamp lands; the row converges to the
// highest timestamp observed. Returns whether the merge was applied.
func (s *Store) MergeEvent(ctx context.Context, existing models.CandidateEvent, ev models.NormalizedEvent) (bool, error) {
	m := mergeEventData(existing, ev)
	norm, err := marshalJSON(m.Normalized)
	if err != nil {
		return false, fmt.Errorf("marshal merged normalized: %w", err)
	}
	rawJSON, err := marshalJSON(m.Raw)
	if err != nil {
		return false, fmt.Errorf("marshal merged raw: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE candidate_events
		SET stage_from = $2, stage_to = $3, ts = $4, raw_payload = $5, normalized = $6
		WHERE id = $1 AND ts < $4
	`, existing.ID, m.StageFrom, m.StageTo, ev.Timestamp, rawJSON, norm)
	if err != nil {
		return false, fmt.Errorf("merge candidate event %s: %w", existing.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindPrecedingEvent returns the latest event for the candidate strictly
// before the given timestamp.
func (s *Store) FindPrecedingEvent(ctx context.Context, candidateID string, before time.Time) (models.CandidateEvent, bool, error) {
	return s.scanEvent(s.pool.QueryRow(ctx, `
		SELECT id, connector_id, provider_event_id, provider, type, candidate_id, job_id,
		       stage_from, stage_to, actor, ts, raw_payload, normalized, created_at
		FROM candidate_events
		WHERE candidate_id = $1 AND ts < $2
		ORDER BY ts DESC
		LIMIT 1
	`, candidateID, before))
}

// ListJobEvents returns every event of one job ordered by (candidate, time),
// the scan order full reconciliation needs.
func (s *Store) ListJobEvents(ctx context.Context, jobID, connectorID string) ([]models.CandidateEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, connector_id, provider_event_id, provider, type, candidate_id, job_id,
		       stage_from, stage_to, actor, ts, raw_payload, normalized, created_at
		FROM candidate_events
		WHERE job_id = $1 AND connector_id = $2
		ORDER BY candidate_id ASC, ts ASC
	`, jobID, connectorID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var events []models.CandidateEvent
	for rows.Next() {
		ev, _, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkEventComputed stamps the stage-duration idempotency marker outside a
// metric transaction (skip paths: no predecessor, unnamed stage, clock disorder).
func (s *Store) MarkEventComputed(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE candidate_events
		SET normalized = COALESCE(normalized, '{}'::jsonb) || jsonb_build_object($2::text, true)
		WHERE id = $1
	`, eventID, models.MetaStageDurationComputed)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEvent(row rowScanner) (models.CandidateEvent, bool, error) {
	var ev models.CandidateEvent
	var candidateID, jobID, stageFrom, stageTo, actor pgtype.Text
	var raw, norm []byte

	err := row.Scan(&ev.ID, &ev.ConnectorID, &ev.ProviderEventID, &ev.Provider, &ev.Type,
		&candidateID, &jobID, &stageFrom, &stageTo, &actor, &ev.Timestamp, &raw, &norm, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CandidateEvent{}, false, nil
	}
	if err != nil {
		return models.CandidateEvent{}, false, fmt.Errorf("scan candidate event: %w", err)
	}

	ev.CandidateID = textPtr(candidateID)
	ev.JobID = textPtr(jobID)
	ev.StageFrom = textPtr(stageFrom)
	ev.StageTo = textPtr(stageTo)
	ev.Actor = textPtr(actor)
	if ev.RawPayload, err = unmarshalJSON(raw); err != nil {
		return models.CandidateEvent{}, false, fmt.Errorf("unmarshal event raw: %w", err)
	}
	if ev.Normalized, err = unmarshalJSON(norm); err != nil {
		return models.CandidateEvent{}, false, fmt.Errorf("unmarshal event normalized: %w", err)
	}
	return ev, true, nil
}
