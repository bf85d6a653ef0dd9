package domain

import (
	"context"
	"time"
)

// PropertyStore reads customer properties. PropertiesNear returns a superset of
// the properties that could match: active, contactable, opted into the hazard,
// and whose own radius box contains the point. Callers apply the exact checks.
type PropertyStore interface {
	PropertiesNear(ctx context.Context, hazard Hazard, at Geo) ([]CustomerProperty, error)
	GetProperty(ctx context.Context, id string) (CustomerProperty, error)
}

// AlertStore persists ImpactAlerts. CreateAlertIfAbsent must be an atomic
// conditional insert keyed on (PropertyID, StormEventID); when a row already
// exists it returns that row with created=false.
type AlertStore interface {
	CreateAlertIfAbsent(ctx context.Context, alert ImpactAlert) (stored ImpactAlert, created bool, err error)
	GetAlert(ctx context.Context, id string) (ImpactAlert, error)
	RecordDelivery(ctx context.Context, alertID string, result DeliveryResult) (ImpactAlert, error)
	UpdateStatus(ctx context.Context, alertID string, change StatusChange) (ImpactAlert, error)
	Dismiss(ctx context.Context, alertID string, at time.Time) (ImpactAlert, error)
	PendingAlerts(ctx context.Context, repID string) ([]ImpactAlert, error)
	AlertsSince(ctx context.Context, repID string, since time.Time) ([]ImpactAlert, error)
}

// RunStore keeps the append-only MonitoringRun log.
type RunStore interface {
	StartRun(ctx context.Context, run MonitoringRun) error
	FinishRun(ctx context.Context, run MonitoringRun) error
}

// RepDirectory resolves the delivery addresses of a rep.
type RepDirectory interface {
	RepContact(ctx context.Context, repID string) (RepContact, error)
}
