package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}

// ApplyStageDuration merges one dwell-time sample into the (job, stage) metric
// and stamps the event's idempotency marker in the same transaction, so a
// retried or concurrently duplicated task can never double-count the event.
// The stamp is conditional on the marker being unset and happens first: two
// transactions for the same event serialize on the event row, and the loser
// sees zero rows affected and skips the metric merge. Returns whether this
// call contributed the sample.
func (s *Store) ApplyStageDuration(ctx context.Context, eventID, jobID, connectorID, stageName string, durationHours float64) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin metric tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE candidate_events
		SET normalized = COALESCE(normalized, '{}'::jsonb) || jsonb_build_object($2::text, true)
		WHERE id = $1 AND NOT COALESCE((normalized->>$2)::boolean, false)
	`, eventID, models.MetaStageDurationComputed)
	if err != nil {
		return false, fmt.Errorf("stamp event marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// another worker already counted this event
		return false, nil
	}

	var metricID string
	var count int
	var total float64
	err = tx.QueryRow(ctx, `
		SELECT id, candidate_count, total_duration_hours
		FROM stage_metrics
		WHERE job_id = $1 AND connector_id = $2 AND stage_name = $3
		FOR UPDATE
	`, jobID, connectorID, stageName).Scan(&metricID, &count, &total)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO stage_metrics (id, connector_id, job_id, stage_name, candidate_count, total_duration_hours, avg_duration_hours, computed_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6, NOW())
		`, uuid.New().String(), connectorID, jobID, stageName, round(durationHours, 6), round(durationHours, 3))
		if err != nil {
			return false, fmt.Errorf("insert stage metric: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("lock stage metric: %w", err)
	default:
		newCount := count + 1
		newTotal := total + durationHours
		_, err = tx.Exec(ctx, `
			UPDATE stage_metrics
			SET candidate_count = $2, total_duration_hours = $3, avg_duration_hours = $4, computed_at = NOW()
			WHERE id = $1
		`, metricID, newCount, round(newTotal, 6), round(newTotal/float64(newCount), 3))
		if err != nil {
			return false, fmt.Errorf("update stage metric: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit metric tx: %w", err)
	}
	return true, nil
}

// StageTotals is a rebuilt aggregate for one stage of one job.
type StageTotals struct {
	Count int
	Total float64
}

// OverwriteStageMetrics replaces the stored aggregates of a job with freshly
// recomputed ones; full reconciliation does not trust the incremental rows.
func (s *Store) OverwriteStageMetrics(ctx context.Context, jobID, connectorID string, totals map[string]StageTotals) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for stage, t := range totals {
		avg := round(t.Total/math.Max(1, float64(t.Count)), 3)
		_, err := tx.Exec(ctx, `
			INSERT INTO stage_metrics (id, connector_id, job_id, stage_name, candidate_count, total_duration_hours, avg_duration_hours, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (job_id, connector_id, stage_name) DO UPDATE SET
				candidate_count = EXCLUDED.candidate_count,
				total_duration_hours = EXCLUDED.total_duration_hours,
				avg_duration_hours = EXCLUDED.avg_duration_hours,
				computed_at = NOW()
		`, uuid.New().String(), connectorID, jobID, stage, t.Count, round(t.Total, 6), avg)
		if err != nil {
			return fmt.Errorf("overwrite metric %s: %w", stage, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reconcile tx: %w", err)
	}
	return nil
}

// ListStageMetrics returns the stored aggregates for one job.
func (s *Store) ListStageMetrics(ctx context.Context, jobID, connectorID string) ([]models.StageMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, connector_id, job_id, stage_name, candidate_count, total_duration_hours, avg_duration_hours, delay_severity, computed_at
		FROM stage_metrics
		WHERE job_id = $1 AND connector_id = $2
	`, jobID, connectorID)
	if err != nil {
		return nil, fmt.Errorf("list stage metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.StageMetric
	for rows.Next() {
		var m models.StageMetric
		var avg pgtype.Float8
		var severity pgtype.Text
		if err := rows.Scan(&m.ID, &m.ConnectorID, &m.JobID, &m.StageName, &m.CandidateCount, &m.TotalDurationHours, &avg, &severity, &m.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan stage metric: %w", err)
		}
		m.AvgDurationHours = floatPtr(avg)
		m.DelaySeverity = textPtr(severity)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// UpsertHeatmapCount creates a count-only metric row for a stage that has no
// duration metric yet, and keeps refreshing it while it stays count-only.
// Rows with accumulated duration keep their sample size: candidate_count is
// the divisor of avg_duration_hours there and must not be clobbered by
// snapshot counts.
func (s *Store) UpsertHeatmapCount(ctx context.Context, jobID, connectorID, stageName string, count int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stage_metrics (id, connector_id, job_id, stage_name, candidate_count, total_duration_hours, computed_at)
		VALUES ($1, $2, $3, $4, $5, 0, NOW())
		ON CONFLICT (job_id, connector_id, stage_name) DO UPDATE SET
			candidate_count = EXCLUDED.candidate_count,
			computed_at = NOW()
		WHERE stage_metrics.total_duration_hours = 0
	`, uuid.New().String(), connectorID, jobID, stageName, count)
	if err != nil {
		return fmt.Errorf("upsert heatmap count %s: %w", stageName, err)
	}
	return nil
}
