package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
)

// SnapshotResult reports whether a candidate snapshot advanced.
type SnapshotResult struct {
	Updated     bool   `json:"updated"`
	CandidateID string `json:"candidate_id,omitempty"`
}

// SnapshotUpdater projects persisted events onto the candidate's denormalized
// current_stage/last_event_at snapshot. Last-write-wins by event timestamp,
// race-safe under concurrent normalize workers: the decisive comparison
// happens inside a row-locked transaction in the store.
type SnapshotUpdater struct {
	store      *store.Store
	cache      *redis.Client
	historyMax int
	historyTTL time.Duration
	logger     *zap.SugaredLogger
}

func NewSnapshotUpdater(st *store.Store, cache *redis.Client, historyMax int, historyTTL time.Duration, logger *zap.SugaredLogger) *SnapshotUpdater {
	if historyMax <= 0 {
		historyMax = 10
	}
	return &SnapshotUpdater{
		store:      st,
		cache:      cache,
		historyMax: historyMax,
		historyTTL: historyTTL,
		logger:     logger,
	}
}

// UpdateFromEvent loads the event and advances the candidate snapshot if the
// event is the newest observed.
func (u *SnapshotUpdater) UpdateFromEvent(ctx context.Context, eventID string) (SnapshotResult, error) {
	if eventID == "" {
		return SnapshotResult{}, fmt.Errorf("eventID is required")
	}

	evt, found, err := u.store.GetEvent(ctx, eventID)
	if err != nil {
		return SnapshotResult{}, err
	}
	if !found {
		u.logger.Warnw("snapshot update for unknown event", "event_id", eventID)
		return SnapshotResult{}, nil
	}

	candidateID, err := u.resolveCandidate(ctx, evt)
	if err != nil {
		return SnapshotResult{}, err
	}
	if candidateID == "" {
		u.logger.Warnw("cannot resolve candidate for event",
			"event_id", eventID, "provider_event_id", evt.ProviderEventID)
		return SnapshotResult{}, nil
	}

	snap, found, err := u.store.GetCandidateSnapshot(ctx, candidateID)
	if err != nil {
		return SnapshotResult{}, err
	}
	if !found {
		u.logger.Warnw("candidate row missing while updating snapshot", "candidate_id", candidateID)
		return SnapshotResult{}, nil
	}

	// Cheap staleness check before taking the row lock. Equal timestamps
	// still apply, keeping the stage consistent with merged event fields.
	if snap.LastEventAt != nil && evt.Timestamp.Before(*snap.LastEventAt) {
		telemetry.SnapshotsStale.Inc()
		return SnapshotResult{Updated: false, CandidateID: candidateID}, nil
	}

	stage := pickStage(evt)
	applied, err := u.store.AdvanceCandidateSnapshot(ctx, candidateID, stage, evt.Timestamp, evt.ID)
	if err != nil {
		return SnapshotResult{}, err
	}
	if !applied {
		// a concurrently-applied newer event won the race
		telemetry.SnapshotsStale.Inc()
		return SnapshotResult{Updated: false, CandidateID: candidateID}, nil
	}

	u.pushStageHistory(ctx, candidateID, stage, evt)
	telemetry.SnapshotsApplied.Inc()
	return SnapshotResult{Updated: true, CandidateID: candidateID}, nil
}

func (u *SnapshotUpdater) resolveCandidate(ctx context.Context, evt models.CandidateEvent) (string, error) {
	if evt.CandidateID != nil {
		return *evt.CandidateID, nil
	}
	ext, _ := evt.Normalized["candidateExternalId"].(string)
	if ext == "" {
		return "", nil
	}
	id, ok, err := u.store.ResolveCandidateID(ctx, ext, evt.ConnectorID)
	if err != nil || !ok {
		return "", err
	}
	return id, nil
}

// pickStage chooses the snapshot stage: the stage entered, the provider
// status label, or the stage left, in that order.
func pickStage(evt models.CandidateEvent) *string {
	if evt.StageTo != nil && *evt.StageTo != "" {
		return evt.StageTo
	}
	if meta, ok := evt.Normalized["metadata"].(map[string]any); ok {
		if status, ok := meta["status"].(map[string]any); ok {
			if label, ok := status["label"].(string); ok && label != "" {
				return &label
			}
		}
	}
	return evt.StageFrom
}

// pushStageHistory keeps a bounded recent-stage list per candidate in Redis.
// Purely a read optimization: every failure here is swallowed.
func (u *SnapshotUpdater) pushStageHistory(ctx context.Context, candidateID string, stage *string, evt models.CandidateEvent) {
	if u.cache == nil {
		return
	}
	entry, err := json.Marshal(map[string]any{
		"ts":              evt.Timestamp.UTC().Format(time.RFC3339),
		"stage":           stage,
		"providerEventId": evt.ProviderEventID,
	})
	if err != nil {
		return
	}
	key := "candidate:" + candidateID + ":stages"
	pipe := u.cache.TxPipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, int64(u.historyMax-1))
	pipe.Expire(ctx, key, u.historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		u.logger.Debugw("stage history cache write failed", "candidate_id", candidateID, "err", err)
	}
}
