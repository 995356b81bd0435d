package analytics

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
)

// DurationEngine accumulates per-(job, stage) dwell time. Incremental mode
// applies one event; full reconciliation rebuilds a job's metrics from its
// complete event history and is the safety net for any incremental gap.
//
// Durations attribute time to the stage being LEFT: "how long did this
// candidate sit in Screening" is the gap ending when they leave Screening.
type DurationEngine struct {
	store  *store.Store
	logger *zap.SugaredLogger
}

func NewDurationEngine(st *store.Store, logger *zap.SugaredLogger) *DurationEngine {
	return &DurationEngine{store: st, logger: logger}
}

// DurationResult reports whether one event contributed a dwell-time sample.
type DurationResult struct {
	Applied       bool
	DurationHours float64
}

// ComputeDurationFromEvent applies the incremental path for one event. The
// idempotency marker is stamped in the same transaction as the metric merge,
// so a retried task can never double-count.
func (e *DurationEngine) ComputeDurationFromEvent(ctx context.Context, eventID string) (DurationResult, error) {
	if eventID == "" {
		return DurationResult{}, fmt.Errorf("eventID is required")
	}

	evt, found, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return DurationResult{}, err
	}
	if !found {
		e.logger.Warnw("stage duration: event not found", "event_id", eventID)
		return DurationResult{}, nil
	}
	// Fast path only: the authoritative dedup is the conditional marker stamp
	// inside the metric transaction.
	if evt.StageDurationComputed() {
		return DurationResult{}, nil
	}
	if evt.CandidateID == nil {
		// No candidate link, no predecessor to pair with. Mark computed so a
		// retry does not spin; reconciliation covers it once resolved.
		return DurationResult{}, e.store.MarkEventComputed(ctx, evt.ID)
	}

	prev, found, err := e.store.FindPrecedingEvent(ctx, *evt.CandidateID, evt.Timestamp)
	if err != nil {
		return DurationResult{}, err
	}
	if !found {
		return DurationResult{}, e.store.MarkEventComputed(ctx, evt.ID)
	}

	prevStage := stageOf(prev)
	if prevStage == "" {
		return DurationResult{}, e.store.MarkEventComputed(ctx, evt.ID)
	}

	gap := evt.Timestamp.Sub(prev.Timestamp)
	if gap < 0 {
		// clock disorder between provider timestamps
		e.logger.Warnw("stage duration: negative gap, skipping", "event_id", eventID)
		return DurationResult{}, e.store.MarkEventComputed(ctx, evt.ID)
	}
	if evt.JobID == nil {
		// metric rows are keyed by job; reconciliation picks this up once
		// the job link resolves
		return DurationResult{}, e.store.MarkEventComputed(ctx, evt.ID)
	}

	hours := gap.Hours()
	applied, err := e.store.ApplyStageDuration(ctx, evt.ID, *evt.JobID, evt.ConnectorID, prevStage, hours)
	if err != nil {
		return DurationResult{}, err
	}
	if !applied {
		return DurationResult{}, nil
	}
	telemetry.DurationsApplied.Inc()
	e.logger.Infow("stage duration applied",
		"job_id", *evt.JobID, "stage", prevStage, "hours", hours, "event_id", eventID)
	return DurationResult{Applied: true, DurationHours: hours}, nil
}

// ReconcileJobMetrics rebuilds one job's metrics entirely from its event
// history, overwriting the stored aggregates. It ignores the per-event
// idempotency marker: the scan itself is the truth.
func (e *DurationEngine) ReconcileJobMetrics(ctx context.Context, jobID, connectorID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}

	events, err := e.store.ListJobEvents(ctx, jobID, connectorID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	totals := stageDurations(events)
	if len(totals) == 0 {
		return nil
	}
	if err := e.store.OverwriteStageMetrics(ctx, jobID, connectorID, totals); err != nil {
		return err
	}
	e.logger.Infow("reconciled stage metrics", "job_id", jobID, "stages", len(totals))
	return nil
}

// stageOf names the stage a candidate occupied after this event.
func stageOf(evt models.CandidateEvent) string {
	if evt.StageTo != nil && *evt.StageTo != "" {
		return *evt.StageTo
	}
	if evt.StageFrom != nil {
		return *evt.StageFrom
	}
	return ""
}

// stageDurations scans events ordered by (candidate, timestamp) and sums the
// gap between consecutive events per candidate, attributed to the stage the
// earlier event put the candidate in. Negative gaps and unnamed stages are
// skipped, mirroring the incremental path.
func stageDurations(events []models.CandidateEvent) map[string]store.StageTotals {
	totals := make(map[string]store.StageTotals)
	lastByCandidate := make(map[string]models.CandidateEvent)

	for _, evt := range events {
		if evt.CandidateID == nil {
			continue
		}
		c := *evt.CandidateID
		prev, seen := lastByCandidate[c]
		lastByCandidate[c] = evt
		if !seen {
			continue
		}
		stage := stageOf(prev)
		if stage == "" {
			continue
		}
		gap := evt.Timestamp.Sub(prev.Timestamp)
		if gap < 0 {
			continue
		}
		t := totals[stage]
		t.Count++
		t.Total += gap.Hours()
		totals[stage] = t
	}
	return totals
}
