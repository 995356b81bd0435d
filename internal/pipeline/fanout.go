package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/archive"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
)

// FanOut splits one raw provider page into per-record normalize tasks. Page
// size is server-controlled; failure isolation is per record, so one bad
// application retries alone instead of replaying the whole page.
type FanOut struct {
	queue    *queue.LaneQueue
	archiver archive.Archiver
	logger   *zap.SugaredLogger
}

func NewFanOut(q *queue.LaneQueue, archiver archive.Archiver, logger *zap.SugaredLogger) *FanOut {
	return &FanOut{queue: q, archiver: archiver, logger: logger}
}

// HandleRawPage archives the page (best-effort) and enqueues one normalize
// task per record. Returns the number of tasks enqueued. Individual enqueue
// failures are logged and skipped; the task only fails when nothing at all
// could be enqueued from a non-empty page.
func (f *FanOut) HandleRawPage(ctx context.Context, p models.RawPagePayload) (int, error) {
	if f.archiver != nil {
		if err := f.archiver.StorePage(ctx, p.ConnectorID, p.Page, p.RawApplications); err != nil {
			f.logger.Warnw("raw page archive failed",
				"connector_id", p.ConnectorID, "page", p.Page, "err", err)
		}
	}

	enqueued := 0
	var lastErr error
	for _, app := range p.RawApplications {
		_, err := f.queue.Enqueue(ctx, queue.LaneNormalize, models.TaskNormalizeApp, models.NormalizePayload{
			ConnectorID: p.ConnectorID,
			Application: app,
		})
		if err != nil {
			lastErr = err
			f.logger.Errorw("failed to enqueue normalize task",
				"connector_id", p.ConnectorID, "page", p.Page, "err", err)
			continue
		}
		enqueued++
	}

	if enqueued == 0 && len(p.RawApplications) > 0 {
		return 0, fmt.Errorf("fan-out enqueued nothing for page %d: %w", p.Page, lastErr)
	}
	f.logger.Infow("fan-out complete",
		"connector_id", p.ConnectorID, "page", p.Page, "enqueued", enqueued)
	return enqueued, nil
}
