package models

import "testing"

func TestStageDurationComputed(t *testing.T) {
	var e CandidateEvent
	if e.StageDurationComputed() {
		t.Fatalf("nil normalized treated as computed")
	}

	e.Normalized = map[string]any{}
	if e.StageDurationComputed() {
		t.Fatalf("missing marker treated as computed")
	}

	e.Normalized[MetaStageDurationComputed] = false
	if e.StageDurationComputed() {
		t.Fatalf("false marker treated as computed")
	}

	// jsonb round-trips may hand back non-bool shapes; only a true bool counts
	e.Normalized[MetaStageDurationComputed] = "true"
	if e.StageDurationComputed() {
		t.Fatalf("string marker treated as computed")
	}

	e.Normalized[MetaStageDurationComputed] = true
	if !e.StageDurationComputed() {
		t.Fatalf("true marker not seen")
	}
}
