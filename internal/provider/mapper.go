package provider

import (
	"time"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

// ProviderName identifies the upstream ATS in persisted events.
const ProviderName = "bamboohr"

// MapApplicationToEvent converts one raw application record into the
// canonical event form. Pure function: unknown or missing fields degrade to
// empty values, and the raw payload is preserved for forensic replay.
func MapApplicationToEvent(app Record, connectorID string) models.NormalizedEvent {
	timestamp := app.Time("updatedAt", "createdAt")
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	candidateExternalID := ""
	if applicant := app.Child("applicant", "applicantDetails"); applicant != nil {
		candidateExternalID = applicant.String("id", "applicantId")
	}
	if candidateExternalID == "" {
		candidateExternalID = app.String("applicantId")
	}

	jobExternalID := ""
	if job := app.Child("job"); job != nil {
		jobExternalID = job.String("id")
	}
	if jobExternalID == "" {
		jobExternalID = app.String("jobOpeningId")
	}

	metadata := map[string]any{
		"rating":           app["rating"],
		"status":           app["status"],
		"rawApplicationId": app["id"],
	}

	return models.NormalizedEvent{
		ConnectorID:         connectorID,
		Provider:            ProviderName,
		ProviderEventID:     app.String("id"),
		EventType:           "stage_change",
		CandidateExternalID: candidateExternalID,
		JobExternalID:       jobExternalID,
		StageFrom:           app.Label("previousStage"),
		StageTo:             app.Label("currentStage"),
		Actor:               app.String("updatedBy", "changedBy"),
		Timestamp:           timestamp,
		Metadata:            metadata,
		Raw:                 map[string]any(app),
	}
}
