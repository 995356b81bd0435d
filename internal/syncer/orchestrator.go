package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/provider"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/queue"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/ratelimit"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
)

// ErrSyncInProgress is returned when a sync is already running for the
// connector. Exactly one in-flight sync per connector is enforced by a Redis
// guard key, not assumed.
var ErrSyncInProgress = errors.New("sync already in progress for connector")

// Orchestrator coordinates full and delta syncs for a connector: fetch from
// the provider, upsert jobs/candidates, and fan application pages out onto
// the raw-events lane.
type Orchestrator struct {
	cfg     config.Config
	store   *store.Store
	queue   *queue.LaneQueue
	factory *provider.Factory
	limiter *ratelimit.TokenBucket
	guard   *redis.Client
	logger  *zap.SugaredLogger
}

func NewOrchestrator(cfg config.Config, st *store.Store, q *queue.LaneQueue, factory *provider.Factory, limiter *ratelimit.TokenBucket, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		queue:   q,
		factory: factory,
		limiter: limiter,
		guard:   q.Client(),
		logger:  logger,
	}
}

// FullSync runs a complete re-import. Non-inline mode enqueues a sync-lane
// task and returns its id; inline mode runs synchronously and returns counts.
func (o *Orchestrator) FullSync(ctx context.Context, connectorID string, inline bool) (*models.SyncResult, string, error) {
	if !inline {
		taskID, err := o.queue.Enqueue(ctx, queue.LaneSync, models.TaskFullSync, models.SyncPayload{
			ConnectorID: connectorID,
			SyncType:    "full",
		})
		return nil, taskID, err
	}
	res, err := o.RunFullSync(ctx, connectorID)
	return res, "", err
}

// DeltaSync runs an incremental import. Same inline/enqueue split as FullSync.
func (o *Orchestrator) DeltaSync(ctx context.Context, connectorID string, inline bool) (*models.SyncResult, string, error) {
	if !inline {
		taskID, err := o.queue.Enqueue(ctx, queue.LaneSync, models.TaskDeltaSync, models.SyncPayload{
			ConnectorID: connectorID,
			SyncType:    "delta",
		})
		return nil, taskID, err
	}
	res, err := o.RunDeltaSync(ctx, connectorID)
	return res, "", err
}

// RunFullSync executes a full sync. On success the delta cursor is cleared:
// a full import supersedes it.
func (o *Orchestrator) RunFullSync(ctx context.Context, connectorID string) (*models.SyncResult, error) {
	return o.runSync(ctx, connectorID, true)
}

// RunDeltaSync executes a delta sync. The since cursor is computed as
// lastDeltaSyncAt ?? lastFullSyncAt ?? epoch for auditability; the provider
// listing has no server-side updatedSince yet, so the scan is full with
// client-side dedup downstream.
func (o *Orchestrator) RunDeltaSync(ctx context.Context, connectorID string) (*models.SyncResult, error) {
	return o.runSync(ctx, connectorID, false)
}

func (o *Orchestrator) runSync(ctx context.Context, connectorID string, full bool) (*models.SyncResult, error) {
	release, err := o.acquireGuard(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	defer release()

	telemetry.SyncsStarted.Inc()
	kind := "delta"
	if full {
		kind = "full"
	}

	conn, err := o.store.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if !full {
		since := deltaCursor(conn)
		o.logger.Infow("delta sync cursor", "connector_id", connectorID, "since", since)
	}

	start := time.Now()
	res, err := o.importAll(ctx, conn)
	if err != nil {
		telemetry.SyncsFailed.Inc()
		// Best-effort status write: its own failure must not mask the sync error.
		if statusErr := o.store.SetConnectorStatus(ctx, connectorID, models.ConnectorError); statusErr != nil {
			o.logger.Errorw("failed to mark connector error after sync failure",
				"connector_id", connectorID, "err", statusErr)
		}
		o.logger.Errorw("sync failed", "connector_id", connectorID, "type", kind, "err", err)
		return nil, err
	}
	res.Duration = time.Since(start)

	now := time.Now().UTC()
	if full {
		err = o.store.MarkFullSync(ctx, connectorID, now)
	} else {
		err = o.store.MarkDeltaSync(ctx, connectorID, now)
	}
	if err != nil {
		return nil, fmt.Errorf("record sync cursor: %w", err)
	}

	o.logger.Infow("sync complete", "connector_id", connectorID, "type", kind,
		"jobs", res.Jobs, "candidates", res.Candidates, "events", res.Events, "duration", res.Duration)
	return res, nil
}

func (o *Orchestrator) importAll(ctx context.Context, conn models.Connector) (*models.SyncResult, error) {
	client, err := o.factory.ClientFor(conn)
	if err != nil {
		return nil, err
	}

	jobs, err := o.syncJobs(ctx, client, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("sync jobs: %w", err)
	}
	candidates, err := o.syncCandidates(ctx, client, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("sync candidates: %w", err)
	}
	events, err := o.syncEvents(ctx, client, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("sync events: %w", err)
	}
	return &models.SyncResult{Jobs: jobs, Candidates: candidates, Events: events}, nil
}

// syncJobs upserts every job opening the provider reports.
func (o *Orchestrator) syncJobs(ctx context.Context, client *provider.Client, connectorID string) (int, error) {
	if err := o.limiter.Wait(ctx, connectorID); err != nil {
		return 0, err
	}
	openings, err := client.ListJobOpenings(ctx)
	if err != nil {
		return 0, err
	}
	for _, job := range openings {
		externalID := job.String("id", "externalId", "jobOpeningId")
		if externalID == "" {
			continue
		}
		err := o.store.UpsertJob(ctx, store.UpsertJobParams{
			ConnectorID:   connectorID,
			ExternalJobID: externalID,
			Title:         optional(job.Label("title", "postingTitle", "jobOpeningName")),
			Department:    optional(job.Label("department")),
			Location:      optional(job.Label("location")),
			Status:        optional(job.Label("status")),
			Raw:           map[string]any(job),
		})
		if err != nil {
			return 0, err
		}
	}
	o.logger.Infow("synced job openings", "connector_id", connectorID, "count", len(openings))
	return len(openings), nil
}

// syncCandidates pages through applications and upserts each unique applicant.
func (o *Orchestrator) syncCandidates(ctx context.Context, client *provider.Client, connectorID string) (int, error) {
	seen := make(map[string]struct{})
	total := 0

	err := o.forEachPage(ctx, client, connectorID, func(page int, apps []provider.Record) error {
		for _, app := range apps {
			applicant := app.Child("applicant", "applicantDetails")
			if applicant == nil {
				continue
			}
			externalID := applicant.String("id", "applicantId")
			if externalID == "" {
				externalID = app.String("applicantId")
			}
			if externalID == "" {
				continue
			}
			if _, dup := seen[externalID]; dup {
				continue
			}
			seen[externalID] = struct{}{}

			var jobID *string
			if ext := jobExternalID(app); ext != "" {
				if id, ok, err := o.store.ResolveJobID(ctx, ext, connectorID); err != nil {
					return err
				} else if ok {
					jobID = &id
				}
			}

			fullName := joinName(applicant.String("firstName"), applicant.String("lastName"))
			err := o.store.UpsertCandidate(ctx, store.UpsertCandidateParams{
				ConnectorID:         connectorID,
				ExternalCandidateID: externalID,
				JobID:               jobID,
				FullName:            optional(fullName),
				Email:               optional(applicant.String("email")),
				Phone:               optional(applicant.String("phone")),
				Source:              optional(applicant.String("source")),
				Raw:                 map[string]any(applicant),
			})
			if err != nil {
				return err
			}
			total++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.logger.Infow("synced candidates", "connector_id", connectorID, "count", total)
	return total, nil
}

// syncEvents pages through applications and enqueues one raw-events-lane task
// per page. A failed enqueue for one page is logged and the loop continues:
// losing one page must not abort the whole sync.
func (o *Orchestrator) syncEvents(ctx context.Context, client *provider.Client, connectorID string) (int, error) {
	pages := 0
	total := 0

	err := o.forEachPage(ctx, client, connectorID, func(page int, apps []provider.Record) error {
		raw := make([]map[string]any, len(apps))
		for i, app := range apps {
			raw[i] = map[string]any(app)
		}
		_, err := o.queue.Enqueue(ctx, queue.LaneRawEvents, models.TaskRawPage, models.RawPagePayload{
			ConnectorID:     connectorID,
			Page:            page,
			RawApplications: raw,
		})
		if err != nil {
			o.logger.Errorw("failed to enqueue raw-events page",
				"connector_id", connectorID, "page", page, "err", err)
			return nil
		}
		pages++
		total += len(apps)
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.logger.Infow("enqueued raw event pages", "connector_id", connectorID, "pages", pages, "applications", total)
	return total, nil
}

// forEachPage drives application pagination with per-connector pacing.
// Stops on paginationComplete, an absolute nextPageUrl (not followed), or a
// short page.
func (o *Orchestrator) forEachPage(ctx context.Context, client *provider.Client, connectorID string, fn func(page int, apps []provider.Record) error) error {
	for page := 1; ; page++ {
		if err := o.limiter.Wait(ctx, connectorID); err != nil {
			return err
		}
		apps, resp, err := client.ListApplications(ctx, page)
		if err != nil {
			return fmt.Errorf("fetch applications page %d: %w", page, err)
		}
		if len(apps) == 0 {
			return nil
		}
		if err := fn(page, apps); err != nil {
			return err
		}
		if provider.PaginationComplete(resp) {
			return nil
		}
		if provider.HasAbsoluteNextPage(resp) {
			o.logger.Warnw("provider returned absolute nextPageUrl, stopping pagination",
				"connector_id", connectorID, "page", page)
			return nil
		}
		if len(apps) < o.cfg.ProviderPageLimit {
			return nil
		}
	}
}

func deltaCursor(conn models.Connector) time.Time {
	if conn.LastDeltaSyncAt != nil {
		return *conn.LastDeltaSyncAt
	}
	if conn.LastFullSyncAt != nil {
		return *conn.LastFullSyncAt
	}
	return time.Unix(0, 0).UTC()
}

func jobExternalID(app provider.Record) string {
	if job := app.Child("job"); job != nil {
		if id := job.String("id"); id != "" {
			return id
		}
	}
	return app.String("jobOpeningId")
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
