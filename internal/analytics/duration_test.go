package analytics

import (
	"testing"
	"time"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

func strPtr(s string) *string { return &s }

func evt(candidateID string, at time.Time, from, to string) models.CandidateEvent {
	e := models.CandidateEvent{
		CandidateID: &candidateID,
		Timestamp:   at,
	}
	if from != "" {
		e.StageFrom = strPtr(from)
	}
	if to != "" {
		e.StageTo = strPtr(to)
	}
	return e
}

func TestStageDurationsPipelineWalk(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []models.CandidateEvent{
		evt("cand-1", t0, "Applied", "Screening"),
		evt("cand-1", t0.Add(5*time.Hour), "Screening", "Interview"),
		evt("cand-1", t0.Add(12*time.Hour), "Interview", "Offer"),
	}

	totals := stageDurations(events)

	screening := totals["Screening"]
	if screening.Count != 1 || screening.Total != 5 {
		t.Fatalf("Screening = %+v", screening)
	}
	interview := totals["Interview"]
	if interview.Count != 1 || interview.Total != 7 {
		t.Fatalf("Interview = %+v", interview)
	}
	if _, ok := totals["Offer"]; ok {
		t.Fatalf("Offer has no exit event yet, totals = %v", totals)
	}
}

func TestStageDurationsPerCandidate(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []models.CandidateEvent{
		evt("cand-1", t0, "", "Screening"),
		evt("cand-1", t0.Add(2*time.Hour), "Screening", "Interview"),
		evt("cand-2", t0.Add(time.Hour), "", "Screening"),
		evt("cand-2", t0.Add(5*time.Hour), "Screening", "Rejected"),
	}

	totals := stageDurations(events)
	screening := totals["Screening"]
	if screening.Count != 2 || screening.Total != 6 {
		t.Fatalf("Screening = %+v", screening)
	}
}

func TestStageDurationsSkipsDisorderAndGaps(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Negative gap between consecutive events is dropped.
	backwards := []models.CandidateEvent{
		evt("cand-1", t0.Add(time.Hour), "", "Screening"),
		evt("cand-1", t0, "Screening", "Interview"),
	}
	if totals := stageDurations(backwards); len(totals) != 0 {
		t.Fatalf("negative gap contributed: %v", totals)
	}

	// Events without a candidate link are ignored.
	orphan := models.CandidateEvent{Timestamp: t0, StageTo: strPtr("Screening")}
	if totals := stageDurations([]models.CandidateEvent{orphan, orphan}); len(totals) != 0 {
		t.Fatalf("orphan events contributed: %v", totals)
	}

	// A predecessor with no stage name yields no sample.
	unnamed := []models.CandidateEvent{
		evt("cand-1", t0, "", ""),
		evt("cand-1", t0.Add(time.Hour), "", "Interview"),
	}
	if totals := stageDurations(unnamed); len(totals) != 0 {
		t.Fatalf("unnamed stage contributed: %v", totals)
	}
}

func TestStageOfPrefersDestination(t *testing.T) {
	e := models.CandidateEvent{StageFrom: strPtr("Applied"), StageTo: strPtr("Screening")}
	if got := stageOf(e); got != "Screening" {
		t.Fatalf("stageOf = %q", got)
	}
	e.StageTo = nil
	if got := stageOf(e); got != "Applied" {
		t.Fatalf("stageOf fallback = %q", got)
	}
	if got := stageOf(models.CandidateEvent{}); got != "" {
		t.Fatalf("stageOf empty = %q", got)
	}
}
