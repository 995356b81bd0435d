package store

import (
	"testing"
	"time"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

func storedEvent(ts time.Time) models.CandidateEvent {
	from := "Applied"
	to := "Screening"
	return models.CandidateEvent{
		ID:        "evt-1",
		StageFrom: &from,
		StageTo:   &to,
		Timestamp: ts,
		RawPayload: map[string]any{
			"id": "9001",
		},
		Normalized: map[string]any{
			"candidateExternalId": "42",
			"metadata": map[string]any{
				"rating": float64(3),
				"status": "Active",
			},
		},
	}
}

// applyMerge mirrors what the guarded UPDATE writes back into the row.
func applyMerge(existing models.CandidateEvent, ev models.NormalizedEvent) models.CandidateEvent {
	m := mergeEventData(existing, ev)
	existing.StageFrom = m.StageFrom
	existing.StageTo = m.StageTo
	existing.RawPayload = m.Raw
	existing.Normalized = m.Normalized
	existing.Timestamp = ev.Timestamp
	return existing
}

func TestMergeEventDataStageFallback(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := storedEvent(t0)

	// Replay without stage fields keeps the stored stages.
	m := mergeEventData(existing, models.NormalizedEvent{Timestamp: t0.Add(time.Hour)})
	if m.StageFrom == nil || *m.StageFrom != "Applied" {
		t.Fatalf("stage_from = %v", m.StageFrom)
	}
	if m.StageTo == nil || *m.StageTo != "Screening" {
		t.Fatalf("stage_to = %v", m.StageTo)
	}

	// Replay with stages replaces them.
	m = mergeEventData(existing, models.NormalizedEvent{
		StageFrom: "Screening",
		StageTo:   "Interview",
		Timestamp: t0.Add(time.Hour),
	})
	if *m.StageFrom != "Screening" || *m.StageTo != "Interview" {
		t.Fatalf("stages = %v -> %v", *m.StageFrom, *m.StageTo)
	}
}

func TestMergeEventDataMetadata(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := storedEvent(t0)

	m := mergeEventData(existing, models.NormalizedEvent{
		Timestamp: t0.Add(time.Hour),
		Metadata:  map[string]any{"rating": float64(5), "actorNote": "followup"},
	})
	meta := m.Normalized["metadata"].(map[string]any)
	if meta["rating"] != float64(5) {
		t.Fatalf("replay key did not win: %v", meta["rating"])
	}
	if meta["status"] != "Active" {
		t.Fatalf("stored key lost: %v", meta["status"])
	}
	if meta["actorNote"] != "followup" {
		t.Fatalf("new key missing: %v", meta["actorNote"])
	}
	// Non-metadata normalized keys survive.
	if m.Normalized["candidateExternalId"] != "42" {
		t.Fatalf("normalized key lost: %v", m.Normalized["candidateExternalId"])
	}
}

func TestMergeEventDataRawReplacement(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := storedEvent(t0)

	m := mergeEventData(existing, models.NormalizedEvent{Timestamp: t0.Add(time.Hour)})
	if m.Raw["id"] != "9001" {
		t.Fatalf("raw payload dropped without replacement: %v", m.Raw)
	}

	m = mergeEventData(existing, models.NormalizedEvent{
		Timestamp: t0.Add(time.Hour),
		Raw:       map[string]any{"id": "9001", "page": float64(2)},
	})
	if m.Raw["page"] != float64(2) {
		t.Fatalf("raw payload not replaced: %v", m.Raw)
	}
}

func TestMergeEventDataConvergesRegardlessOfOrder(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	older := models.NormalizedEvent{
		StageFrom: "Screening",
		StageTo:   "Interview",
		Timestamp: t0.Add(time.Hour),
		Metadata:  map[string]any{"rating": float64(4)},
	}
	newest := models.NormalizedEvent{
		StageFrom: "Interview",
		StageTo:   "Offer",
		Timestamp: t0.Add(2 * time.Hour),
		Metadata:  map[string]any{"rating": float64(5)},
	}

	// Path A: both replays land in timestamp order.
	rowA := applyMerge(applyMerge(storedEvent(t0), older), newest)

	// Path B: the older replay arrives after the newest committed; the ts
	// guard in MergeEvent rejects it, so only the newest lands.
	rowB := applyMerge(storedEvent(t0), newest)

	if *rowA.StageTo != *rowB.StageTo || *rowA.StageFrom != *rowB.StageFrom {
		t.Fatalf("stages diverged: %v->%v vs %v->%v",
			*rowA.StageFrom, *rowA.StageTo, *rowB.StageFrom, *rowB.StageTo)
	}
	if !rowA.Timestamp.Equal(rowB.Timestamp) || !rowA.Timestamp.Equal(newest.Timestamp) {
		t.Fatalf("timestamps diverged: %s vs %s", rowA.Timestamp, rowB.Timestamp)
	}
	metaA := rowA.Normalized["metadata"].(map[string]any)
	metaB := rowB.Normalized["metadata"].(map[string]any)
	if metaA["rating"] != float64(5) || metaB["rating"] != float64(5) {
		t.Fatalf("metadata diverged: %v vs %v", metaA["rating"], metaB["rating"])
	}
}
