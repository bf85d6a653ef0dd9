package domain

import "time"

// MonitoringRun is the audit record of one batch execution over storm events.
// Sent, Failed and Skipped count channel sends of every channel.
type MonitoringRun struct {
	ID                string     `json:"id"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	EventsProcessed   int        `json:"events_processed"`
	EventsRejected    int        `json:"events_rejected"`
	PropertiesChecked int        `json:"properties_checked"`
	AlertsGenerated   int        `json:"alerts_generated"`
	Sent              int        `json:"sent"`
	Failed            int        `json:"failed"`
	Skipped           int        `json:"skipped"`
	Error             string     `json:"error,omitempty"`
}

// RunSummary is what RunMonitoring returns to its caller.
type RunSummary struct {
	RunID             string `json:"run_id"`
	EventsProcessed   int    `json:"events_processed"`
	PropertiesChecked int    `json:"properties_checked"`
	AlertsGenerated   int    `json:"alerts_generated"`
	Sent              int    `json:"sent"`
	Failed            int    `json:"failed"`
	Skipped           int    `json:"skipped"`
}

// Summary projects the run record onto the caller-facing counters.
func (r MonitoringRun) Summary() RunSummary {
	return RunSummary{
		RunID:             r.ID,
		EventsProcessed:   r.EventsProcessed,
		PropertiesChecked: r.PropertiesChecked,
		AlertsGenerated:   r.AlertsGenerated,
		Sent:              r.Sent,
		Failed:            r.Failed,
		Skipped:           r.Skipped,
	}
}
