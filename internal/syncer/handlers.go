package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/analytics"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/pipeline"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/provider"
)

// HandleSyncTask is the sync-lane handler for full and delta sync tasks.
func (o *Orchestrator) HandleSyncTask(ctx context.Context, task models.Task) error {
	var p models.SyncPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode sync payload: %w", err)
	}
	var err error
	switch task.Type {
	case models.TaskFullSync:
		_, err = o.RunFullSync(ctx, p.ConnectorID)
	case models.TaskDeltaSync:
		_, err = o.RunDeltaSync(ctx, p.ConnectorID)
	default:
		return fmt.Errorf("unknown sync task type %q", task.Type)
	}
	return err
}

// NormalizeHandler processes normalize-lane tasks: map one raw application to
// its canonical event, persist it, then refresh the candidate snapshot and
// stage duration. Snapshot and duration failures are logged and swallowed so
// event persistence, the source of truth, is never retried for their sake.
type NormalizeHandler struct {
	normalizer *pipeline.Normalizer
	snapshots  *pipeline.SnapshotUpdater
	durations  *analytics.DurationEngine
	logger     *zap.SugaredLogger
}

func NewNormalizeHandler(n *pipeline.Normalizer, s *pipeline.SnapshotUpdater, d *analytics.DurationEngine, logger *zap.SugaredLogger) *NormalizeHandler {
	return &NormalizeHandler{normalizer: n, snapshots: s, durations: d, logger: logger}
}

func (h *NormalizeHandler) Handle(ctx context.Context, task models.Task) error {
	var p models.NormalizePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode normalize payload: %w", err)
	}

	ev := provider.MapApplicationToEvent(provider.Record(p.Application), p.ConnectorID)
	res, err := h.normalizer.NormalizeAndPersist(ctx, ev)
	if err != nil {
		return err
	}
	if res.EventID == "" {
		return nil
	}

	if _, err := h.snapshots.UpdateFromEvent(ctx, res.EventID); err != nil {
		h.logger.Errorw("snapshot update failed", "event_id", res.EventID, "err", err)
	}
	if _, err := h.durations.ComputeDurationFromEvent(ctx, res.EventID); err != nil {
		h.logger.Errorw("stage duration computation failed", "event_id", res.EventID, "err", err)
	}
	return nil
}
