package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/store"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/telemetry"
)

// Reason codes for idempotency outcomes. These are normal results, not errors.
const (
	ReasonMissingIDs       = "missing ids"
	ReasonUpdated          = "updated"
	ReasonDuplicate        = "duplicate"
	ReasonDuplicateUnknown = "duplicate_unknown"
)

// NormalizeResult reports what persisting one normalized event did.
type NormalizeResult struct {
	Created bool   `json:"created"`
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Normalizer idempotently persists normalized events. Processing the same
// provider event any number of times, in any order, converges to the same row
// as processing it once with the highest timestamp observed.
type Normalizer struct {
	store  *store.Store
	logger *zap.SugaredLogger
}

func NewNormalizer(st *store.Store, logger *zap.SugaredLogger) *Normalizer {
	return &Normalizer{store: st, logger: logger}
}

// NormalizeAndPersist validates, resolves foreign keys, and inserts or merges
// the event keyed on (provider_event_id, connector_id).
func (n *Normalizer) NormalizeAndPersist(ctx context.Context, ev models.NormalizedEvent) (NormalizeResult, error) {
	if ev.ProviderEventID == "" || ev.ConnectorID == "" {
		n.logger.Warnw("rejecting event with missing ids",
			"provider_event_id", ev.ProviderEventID, "connector_id", ev.ConnectorID)
		return NormalizeResult{Created: false, Reason: ReasonMissingIDs}, nil
	}

	// Both lookups are optional: the event persists with null foreign keys
	// rather than losing ingest progress when the candidate or job has not
	// synced yet.
	var candidateID, jobID *string
	if ev.CandidateExternalID != "" {
		if id, ok, err := n.store.ResolveCandidateID(ctx, ev.CandidateExternalID, ev.ConnectorID); err != nil {
			return NormalizeResult{}, fmt.Errorf("resolve candidate: %w", err)
		} else if ok {
			candidateID = &id
		}
	}
	if ev.JobExternalID != "" {
		if id, ok, err := n.store.ResolveJobID(ctx, ev.JobExternalID, ev.ConnectorID); err != nil {
			return NormalizeResult{}, fmt.Errorf("resolve job: %w", err)
		} else if ok {
			jobID = &id
		}
	}

	normalized := map[string]any{
		"metadata":            ev.Metadata,
		"candidateExternalId": ev.CandidateExternalID,
		"jobExternalId":       ev.JobExternalID,
	}

	eventID, inserted, err := n.store.InsertEvent(ctx, ev, candidateID, jobID, normalized)
	if err != nil {
		return NormalizeResult{}, err
	}
	if inserted {
		telemetry.EventsCreated.Inc()
		n.logger.Infow("candidate event inserted", "event_id", eventID, "provider_event_id", ev.ProviderEventID)
		return NormalizeResult{Created: true, EventID: eventID}, nil
	}

	existing, found, err := n.store.GetEventByProviderID(ctx, ev.ProviderEventID, ev.ConnectorID)
	if err != nil {
		return NormalizeResult{}, err
	}
	if !found {
		// Insert conflicted but the row is gone; extremely unlikely, surface
		// as an outcome and let the next delivery settle it.
		n.logger.Warnw("duplicate event but existing row not found", "provider_event_id", ev.ProviderEventID)
		return NormalizeResult{Created: false, Reason: ReasonDuplicateUnknown}, nil
	}

	if ev.Timestamp.After(existing.Timestamp) {
		merged, err := n.store.MergeEvent(ctx, existing, ev)
		if err != nil {
			return NormalizeResult{}, err
		}
		if merged {
			telemetry.EventsUpdated.Inc()
			n.logger.Infow("candidate event merged with newer timestamp", "event_id", existing.ID)
			return NormalizeResult{Created: false, EventID: existing.ID, Reason: ReasonUpdated}, nil
		}
		// lost the race to a concurrent replay that already stored a higher
		// timestamp; this delivery carries nothing newer
	}

	telemetry.EventsDuplicate.Inc()
	return NormalizeResult{Created: false, EventID: existing.ID, Reason: ReasonDuplicate}, nil
}
