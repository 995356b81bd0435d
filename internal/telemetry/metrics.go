package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsCreated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_events_created_total", Help: "Candidate events inserted"})
	EventsUpdated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_events_updated_total", Help: "Candidate events merged from a newer duplicate"})
	EventsDuplicate  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_events_duplicate_total", Help: "Duplicate events dropped"})
	SnapshotsApplied = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_snapshots_applied_total", Help: "Candidate snapshots advanced"})
	SnapshotsStale   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_snapshots_stale_total", Help: "Snapshot updates skipped as stale"})
	DurationsApplied = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_stage_durations_applied_total", Help: "Stage durations merged into metrics"})
	ReconcileRuns    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_reconcile_runs_total", Help: "Periodic reconciliation sweeps"})
	ReconcileErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_reconcile_job_errors_total", Help: "Per-job reconciliation failures"})
	SyncsStarted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_syncs_started_total", Help: "Full and delta syncs started"})
	SyncsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_syncs_failed_total", Help: "Syncs that ended in error"})
	TaskRetries      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_task_retries_total", Help: "Lane tasks rescheduled after failure"})
	TaskDeadLetter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ats_task_dead_letter_total", Help: "Lane tasks moved to DLQ"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ats_queue_depth", Help: "Ready depth across lanes"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ats_tasks_inflight", Help: "Tasks currently leased"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsCreated,
			EventsUpdated,
			EventsDuplicate,
			SnapshotsApplied,
			SnapshotsStale,
			DurationsApplied,
			ReconcileRuns,
			ReconcileErrors,
			SyncsStarted,
			SyncsFailed,
			TaskRetries,
			TaskDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
