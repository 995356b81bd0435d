package models

import "encoding/json"

// Task types dispatched through the queue lanes.
const (
	TaskFullSync     = "sync:full"
	TaskDeltaSync    = "sync:delta"
	TaskRawPage      = "raw:page"
	TaskNormalizeApp = "normalize:application"
)

// Task is one unit of work on a queue lane. Payload shape depends on Type.
type Task struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SyncPayload rides the sync lane.
type SyncPayload struct {
	ConnectorID string `json:"connector_id"`
	SyncType    string `json:"sync_type"` // full | delta
}

// RawPagePayload rides the raw-events lane: one provider page of applications.
type RawPagePayload struct {
	ConnectorID     string           `json:"connector_id"`
	Page            int              `json:"page"`
	RawApplications []map[string]any `json:"raw_applications"`
}

// NormalizePayload rides the normalize lane: a single raw application record.
type NormalizePayload struct {
	ConnectorID string         `json:"connector_id"`
	Application map[string]any `json:"application"`
}
