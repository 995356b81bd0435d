package models

import (
	"time"
)

// ConnectorStatus values persisted in Postgres.
const (
	ConnectorConnected    = "connected"
	ConnectorError        = "error"
	ConnectorDisconnected = "disconnected"
)

// Connector is one configured BambooHR integration.
type Connector struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Subdomain       string     `json:"subdomain"`
	APIKey          string     `json:"-"`
	Status          string     `json:"status"`
	LastFullSyncAt  *time.Time `json:"last_full_sync_at,omitempty"`
	LastDeltaSyncAt *time.Time `json:"last_delta_sync_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Job is an external job opening, unique per (external_job_id, connector_id).
type Job struct {
	ID            string         `json:"id"`
	ConnectorID   string         `json:"connector_id"`
	ExternalJobID string         `json:"external_job_id"`
	Title         *string        `json:"title,omitempty"`
	Department    *string        `json:"department,omitempty"`
	Location      *string        `json:"location,omitempty"`
	Status        *string        `json:"status,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Candidate is a deduplicated applicant carrying a denormalized snapshot.
// LastEventAt only ever moves forward; the snapshot updater enforces that.
type Candidate struct {
	ID                  string         `json:"id"`
	ConnectorID         string         `json:"connector_id"`
	ExternalCandidateID string         `json:"external_candidate_id"`
	JobID               *string        `json:"job_id,omitempty"`
	FullName            *string        `json:"full_name,omitempty"`
	Email               *string        `json:"email,omitempty"`
	Phone               *string        `json:"phone,omitempty"`
	Source              *string        `json:"source,omitempty"`
	CurrentStage        *string        `json:"current_stage,omitempty"`
	LastEventAt         *time.Time     `json:"last_event_at,omitempty"`
	Raw                 map[string]any `json:"raw,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// MetaStageDurationComputed marks an event whose dwell time has been merged
// into stage metrics. Lives inside CandidateEvent.Normalized.
const MetaStageDurationComputed = "stageDurationComputed"

// CandidateEvent is a persisted stage-change fact, unique per
// (provider_event_id, connector_id). Rows are append-or-merge only.
type CandidateEvent struct {
	ID              string         `json:"id"`
	ConnectorID     string         `json:"connector_id"`
	ProviderEventID string         `json:"provider_event_id"`
	Provider        string         `json:"provider"`
	Type            string         `json:"type"`
	CandidateID     *string        `json:"candidate_id,omitempty"`
	JobID           *string        `json:"job_id,omitempty"`
	StageFrom       *string        `json:"stage_from,omitempty"`
	StageTo         *string        `json:"stage_to,omitempty"`
	Actor           *string        `json:"actor,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	RawPayload      map[string]any `json:"raw_payload,omitempty"`
	Normalized      map[string]any `json:"normalized,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// StageDurationComputed reports the idempotency marker on the event.
func (e CandidateEvent) StageDurationComputed() bool {
	if e.Normalized == nil {
		return false
	}
	v, ok := e.Normalized[MetaStageDurationComputed].(bool)
	return ok && v
}

// NormalizedEvent is the canonical, provider-agnostic form of one stage-change
// fact before persistence.
type NormalizedEvent struct {
	ConnectorID         string         `json:"connector_id"`
	Provider            string         `json:"provider"`
	ProviderEventID     string         `json:"provider_event_id"`
	EventType           string         `json:"event_type"`
	CandidateExternalID string         `json:"candidate_external_id,omitempty"`
	JobExternalID       string         `json:"job_external_id,omitempty"`
	StageFrom           string         `json:"stage_from,omitempty"`
	StageTo             string         `json:"stage_to,omitempty"`
	Actor               string         `json:"actor,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Raw                 map[string]any `json:"raw,omitempty"`
}

// StageMetric is the per-(job, stage) dwell-time aggregate.
// AvgDurationHours == TotalDurationHours / CandidateCount when count > 0.
type StageMetric struct {
	ID                 string    `json:"id"`
	ConnectorID        string    `json:"connector_id"`
	JobID              string    `json:"job_id"`
	StageName          string    `json:"stage_name"`
	CandidateCount     int       `json:"candidate_count"`
	TotalDurationHours float64   `json:"total_duration_hours"`
	AvgDurationHours   *float64  `json:"avg_duration_hours,omitempty"`
	DelaySeverity      *string   `json:"delay_severity,omitempty"`
	ComputedAt         time.Time `json:"computed_at"`
}

// HeatmapCell is one stage entry of a job heatmap.
type HeatmapCell struct {
	StageName        string   `json:"stage_name"`
	CandidateCount   int      `json:"candidate_count"`
	AvgDurationHours *float64 `json:"avg_duration_hours,omitempty"`
	DelaySeverity    *string  `json:"delay_severity,omitempty"`
}

// SyncResult aggregates counts for one completed sync run.
type SyncResult struct {
	Jobs       int           `json:"jobs"`
	Candidates int           `json:"candidates"`
	Events     int           `json:"events"`
	Duration   time.Duration `json:"duration_ms"`
}
