package impact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultStatsDays is the lookback used when a caller does not pass one.
	DefaultStatsDays = 30
	maxStatsDays     = 365
)

// Ledger owns ImpactAlert creation and lifecycle transitions.
type Ledger struct {
	alerts domain.AlertStore
	policy domain.SeverityPolicy
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewLedger creates a Ledger backed by the given alert store.
func NewLedger(alerts domain.AlertStore, policy domain.SeverityPolicy, clock clockwork.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{alerts: alerts, policy: policy, clock: clock, logger: logger}
}

// CreateAlert scores the match and inserts a pending alert unless one already
// exists for (property, event), in which case the stored alert is returned
// unchanged with created=false.
func (l *Ledger) CreateAlert(ctx context.Context, event domain.StormEvent, m domain.Match) (domain.ImpactAlert, bool, error) {
	severity := l.policy.Score(event.Type, m.DistanceMiles, event.Magnitude())
	alert := domain.NewImpactAlert(uuid.NewString(), event, m, severity, l.clock.Now().UTC())

	stored, created, err := l.alerts.CreateAlertIfAbsent(ctx, alert)
	if err != nil {
		return domain.ImpactAlert{}, false, fmt.Errorf("create alert for property %s event %s: %w", m.PropertyID, event.ID, err)
	}
	if created {
		l.logger.Info("impact alert created",
			"alert_id", stored.ID,
			"property_id", stored.PropertyID,
			"event_id", stored.StormEventID,
			"severity", stored.Severity,
			"distance_miles", stored.DistanceMiles,
		)
	} else {
		l.logger.Debug("impact alert already exists",
			"alert_id", stored.ID,
			"property_id", stored.PropertyID,
			"event_id", stored.StormEventID,
		)
	}
	return stored, created, nil
}

// Get returns an alert by id.
func (l *Ledger) Get(ctx context.Context, alertID string) (domain.ImpactAlert, error) {
	return l.alerts.GetAlert(ctx, alertID)
}

// RecordDelivery persists a channel outcome. Stamps the result with the
// ledger clock when the caller left it zero.
func (l *Ledger) RecordDelivery(ctx context.Context, alertID string, result domain.DeliveryResult) (domain.ImpactAlert, error) {
	if result.At.IsZero() {
		result.At = l.clock.Now().UTC()
	}
	alert, err := l.alerts.RecordDelivery(ctx, alertID, result)
	if err != nil {
		return domain.ImpactAlert{}, fmt.Errorf("record %s delivery for alert %s: %w", result.Channel, alertID, err)
	}
	return alert, nil
}

// MarkViewed records that the rep opened the alert.
func (l *Ledger) MarkViewed(ctx context.Context, alertID string) (domain.ImpactAlert, error) {
	return l.Transition(ctx, alertID, domain.StatusChange{Status: domain.StatusViewed})
}

// MarkContacted records that the rep reached the customer.
func (l *Ledger) MarkContacted(ctx context.Context, alertID string) (domain.ImpactAlert, error) {
	return l.Transition(ctx, alertID, domain.StatusChange{Status: domain.StatusContacted})
}

// MarkConverted links a won job to the alert.
func (l *Ledger) MarkConverted(ctx context.Context, alertID, jobID string, conversionDate time.Time) (domain.ImpactAlert, error) {
	return l.Transition(ctx, alertID, domain.StatusChange{
		Status:         domain.StatusConverted,
		JobID:          jobID,
		ConversionDate: &conversionDate,
	})
}

// MarkNotPursued closes the alert without a sale.
func (l *Ledger) MarkNotPursued(ctx context.Context, alertID string) (domain.ImpactAlert, error) {
	return l.Transition(ctx, alertID, domain.StatusChange{Status: domain.StatusNotPursued})
}

// Transition records a human-driven status change. Ordering between states is
// not enforced; converted requires a job id and conversion date.
func (l *Ledger) Transition(ctx context.Context, alertID string, change domain.StatusChange) (domain.ImpactAlert, error) {
	if err := change.Validate(); err != nil {
		return domain.ImpactAlert{}, err
	}
	if change.At.IsZero() {
		change.At = l.clock.Now().UTC()
	}
	alert, err := l.alerts.UpdateStatus(ctx, alertID, change)
	if err != nil {
		return domain.ImpactAlert{}, fmt.Errorf("update alert %s to %s: %w", alertID, change.Status, err)
	}
	l.logger.Info("impact alert status changed", "alert_id", alertID, "status", change.Status)
	return alert, nil
}

// Dismiss hides the alert from the rep's queue without changing its status.
func (l *Ledger) Dismiss(ctx context.Context, alertID string) (domain.ImpactAlert, error) {
	alert, err := l.alerts.Dismiss(ctx, alertID, l.clock.Now().UTC())
	if err != nil {
		return domain.ImpactAlert{}, fmt.Errorf("dismiss alert %s: %w", alertID, err)
	}
	return alert, nil
}

// PendingAlerts lists the alerts a rep has not yet acted on, most severe first.
func (l *Ledger) PendingAlerts(ctx context.Context, repID string) ([]domain.ImpactAlert, error) {
	alerts, err := l.alerts.PendingAlerts(ctx, repID)
	if err != nil {
		return nil, fmt.Errorf("pending alerts for rep %s: %w", repID, err)
	}
	SortBySeverity(alerts)
	return alerts, nil
}

// ImpactStats summarizes a rep's alerts created over the last days days.
// Non-positive days use DefaultStatsDays; the lookback is capped at a year.
func (l *Ledger) ImpactStats(ctx context.Context, repID string, days int) (domain.ImpactStats, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}
	since := l.clock.Now().UTC().AddDate(0, 0, -days)

	alerts, err := l.alerts.AlertsSince(ctx, repID, since)
	if err != nil {
		return domain.ImpactStats{}, fmt.Errorf("impact stats for rep %s: %w", repID, err)
	}

	stats := domain.ImpactStats{RepID: repID, Days: days, BySeverity: map[domain.Severity]int{}}
	for _, a := range alerts {
		stats.Accumulate(a)
	}
	return stats, nil
}

// SortBySeverity orders alerts most severe first, newest first within a level.
func SortBySeverity(alerts []domain.ImpactAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
