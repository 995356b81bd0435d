package analytics

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
)

// JobAggregator recomputes per-job candidate-count heatmaps and drives the
// periodic all-jobs reconciliation that corrects incremental drift.
type JobAggregator struct {
	store    *store.Store
	duration *DurationEngine
	logger   *zap.SugaredLogger
}

func NewJobAggregator(st *store.Store, duration *DurationEngine, logger *zap.SugaredLogger) *JobAggregator {
	return &JobAggregator{store: st, duration: duration, logger: logger}
}

// ComputeJobHeatmap counts current candidates per stage from snapshots and
// joins duration context from the stored metrics. Stages with candidates but
// no metric get a count-only row so the heatmap has a complete grid.
func (a *JobAggregator) ComputeJobHeatmap(ctx context.Context, jobID, connectorID string) ([]models.HeatmapCell, error) {
	counts, err := a.store.CountCandidatesByStage(ctx, jobID, connectorID)
	if err != nil {
		return nil, err
	}
	metrics, err := a.store.ListStageMetrics(ctx, jobID, connectorID)
	if err != nil {
		return nil, err
	}
	byStage := make(map[string]models.StageMetric, len(metrics))
	for _, m := range metrics {
		byStage[m.StageName] = m
	}

	cells := make([]models.HeatmapCell, 0, len(counts))
	for _, c := range counts {
		cell := models.HeatmapCell{StageName: c.StageName, CandidateCount: c.Count}
		if m, ok := byStage[c.StageName]; ok {
			cell.AvgDurationHours = m.AvgDurationHours
			cell.DelaySeverity = m.DelaySeverity
		} else if err := a.store.UpsertHeatmapCount(ctx, jobID, connectorID, c.StageName, c.Count); err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	a.logger.Infow("computed job heatmap", "job_id", jobID, "stages", len(cells))
	return cells, nil
}

// ReconcileAllJobs sweeps every known job: rebuild duration metrics from the
// event history, then refresh the heatmap. Failures are isolated per job so
// one broken job never halts the rest of the sweep.
func (a *JobAggregator) ReconcileAllJobs(ctx context.Context) {
	telemetry.ReconcileRuns.Inc()
	refs, err := a.store.ListJobRefs(ctx)
	if err != nil {
		a.logger.Errorw("reconciliation sweep: listing jobs failed", "err", err)
		return
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		if err := a.duration.ReconcileJobMetrics(ctx, ref.ID, ref.ConnectorID); err != nil {
			telemetry.ReconcileErrors.Inc()
			a.logger.Errorw("reconcile job metrics failed", "job_id", ref.ID, "err", err)
			continue
		}
		if _, err := a.ComputeJobHeatmap(ctx, ref.ID, ref.ConnectorID); err != nil {
			telemetry.ReconcileErrors.Inc()
			a.logger.Errorw("recompute heatmap failed", "job_id", ref.ID, "err", err)
		}
	}
	a.logger.Infow("reconciliation sweep complete", "jobs", len(refs))
}

// StartReconciler schedules the periodic sweep. Returns the cron so the
// caller can Stop it on shutdown.
func (a *JobAggregator) StartReconciler(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		a.ReconcileAllJobs(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
