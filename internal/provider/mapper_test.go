package provider

import (
	"testing"
	"time"
)

func TestMapApplicationToEvent(t *testing.T) {
	app := Record{
		"id":        float64(9001),
		"updatedAt": "2024-03-01T10:30:00Z",
		"applicant": map[string]any{
			"id":        float64(42),
			"firstName": "Ada",
			"lastName":  "Lovelace",
		},
		"job": map[string]any{
			"id": float64(7),
		},
		"previousStage": map[string]any{"label": "Applied"},
		"currentStage":  map[string]any{"label": "Screening"},
		"updatedBy":     "recruiter@example.com",
		"rating":        float64(4),
		"status":        map[string]any{"label": "Active"},
	}

	ev := MapApplicationToEvent(app, "conn-1")

	if ev.ProviderEventID != "9001" {
		t.Fatalf("provider event id = %q", ev.ProviderEventID)
	}
	if ev.Provider != ProviderName {
		t.Fatalf("provider = %q", ev.Provider)
	}
	if ev.CandidateExternalID != "42" {
		t.Fatalf("candidate external id = %q", ev.CandidateExternalID)
	}
	if ev.JobExternalID != "7" {
		t.Fatalf("job external id = %q", ev.JobExternalID)
	}
	if ev.StageFrom != "Applied" || ev.StageTo != "Screening" {
		t.Fatalf("stages = %q -> %q", ev.StageFrom, ev.StageTo)
	}
	if ev.Actor != "recruiter@example.com" {
		t.Fatalf("actor = %q", ev.Actor)
	}
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s", ev.Timestamp)
	}
	if ev.Metadata["rawApplicationId"] != float64(9001) {
		t.Fatalf("metadata rawApplicationId = %v", ev.Metadata["rawApplicationId"])
	}
}

func TestMapApplicationToEventFallbacks(t *testing.T) {
	app := Record{
		"id":           "evt-2",
		"applicantId":  float64(13),
		"jobOpeningId": "55",
	}

	ev := MapApplicationToEvent(app, "conn-1")

	if ev.CandidateExternalID != "13" {
		t.Fatalf("candidate external id = %q", ev.CandidateExternalID)
	}
	if ev.JobExternalID != "55" {
		t.Fatalf("job external id = %q", ev.JobExternalID)
	}
	if ev.StageFrom != "" || ev.StageTo != "" {
		t.Fatalf("expected empty stages, got %q -> %q", ev.StageFrom, ev.StageTo)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("expected fallback timestamp")
	}
}

func TestExtractListShapes(t *testing.T) {
	bare := []any{map[string]any{"id": "1"}}
	if got := ExtractList(bare); len(got) != 1 || got[0].String("id") != "1" {
		t.Fatalf("bare array: %v", got)
	}

	wrapped := map[string]any{"applications": []any{map[string]any{"id": "2"}}}
	if got := ExtractList(wrapped); len(got) != 1 || got[0].String("id") != "2" {
		t.Fatalf("wrapped list: %v", got)
	}

	nested := map[string]any{"meta": map[string]any{"data": []any{map[string]any{"id": "3"}}}}
	if got := ExtractList(nested); len(got) != 1 || got[0].String("id") != "3" {
		t.Fatalf("meta-nested list: %v", got)
	}

	if got := ExtractList(map[string]any{"something": "else"}); len(got) != 0 {
		t.Fatalf("unknown shape should yield empty, got %v", got)
	}
}

func TestPaginationFlags(t *testing.T) {
	if !PaginationComplete(map[string]any{"paginationComplete": true}) {
		t.Fatalf("top-level flag not seen")
	}
	if !PaginationComplete(map[string]any{"meta": map[string]any{"paginationComplete": true}}) {
		t.Fatalf("meta flag not seen")
	}
	if PaginationComplete(map[string]any{"paginationComplete": false}) {
		t.Fatalf("false flag treated as complete")
	}

	if !HasAbsoluteNextPage(map[string]any{"nextPageUrl": "https://x.bamboohr.com/next"}) {
		t.Fatalf("absolute nextPageUrl not detected")
	}
	if HasAbsoluteNextPage(map[string]any{"nextPageUrl": "/relative"}) {
		t.Fatalf("relative url treated as absolute")
	}
	if !HasAbsoluteNextPage(map[string]any{"links": map[string]any{"next": "http://x/next"}}) {
		t.Fatalf("links.next not detected")
	}
}
