package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/couchcryptid/storm-impact-alerts/internal/impact"
	"github.com/couchcryptid/storm-impact-alerts/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Matcher finds the properties impacted by a storm event.
type Matcher interface {
	FindImpactedProperties(ctx context.Context, event domain.StormEvent) (impact.MatchResult, error)
}

// AlertCreator creates the alert for a match, or returns the existing one.
type AlertCreator interface {
	CreateAlert(ctx context.Context, event domain.StormEvent, m domain.Match) (domain.ImpactAlert, bool, error)
}

// Dispatcher performs the automatic send of an alert on one channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert domain.ImpactAlert, ch domain.Channel) (dispatch.Result, error)
}

// AlertPublisher announces newly created alerts to downstream consumers.
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, alerts []domain.ImpactAlert) error
}

// OrchestratorConfig wires an Orchestrator. Publisher is optional.
type OrchestratorConfig struct {
	Matcher      Matcher
	Ledger       AlertCreator
	Dispatcher   Dispatcher
	Runs         domain.RunStore
	Publisher    AlertPublisher
	SendInterval time.Duration // minimum gap between SMS attempts within a run
	Clock        clockwork.Clock
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Orchestrator drives monitoring runs: match, score, create, dispatch.
type Orchestrator struct {
	matcher      Matcher
	ledger       AlertCreator
	dispatcher   Dispatcher
	runs         domain.RunStore
	publisher    AlertPublisher
	sendInterval time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		matcher:      cfg.Matcher,
		ledger:       cfg.Ledger,
		dispatcher:   cfg.Dispatcher,
		runs:         cfg.Runs,
		publisher:    cfg.Publisher,
		sendInterval: cfg.SendInterval,
		clock:        clock,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// run carries the state of one RunMonitoring call.
type run struct {
	record   domain.MonitoringRun
	throttle *rate.Limiter
	created  []domain.ImpactAlert
	logger   *slog.Logger

	// alertsReplayed counts matches whose channel already had an attempt.
	alertsReplayed int
}

// RunMonitoring processes events sequentially inside one MonitoringRun. Send
// failures are counted and skipped over; a store failure finalizes the run
// with the error and is returned. Cancelling ctx does not interrupt a run that
// has started.
func (o *Orchestrator) RunMonitoring(ctx context.Context, events []domain.StormEvent) (domain.RunSummary, error) {
	ctx = context.WithoutCancel(ctx)
	start := o.clock.Now()

	r := &run{
		record:   domain.MonitoringRun{ID: uuid.NewString(), StartedAt: start.UTC()},
		throttle: newThrottle(o.sendInterval),
	}
	r.logger = o.logger.With("run_id", r.record.ID)

	if err := o.runs.StartRun(ctx, r.record); err != nil {
		o.observeRun(start, err)
		return domain.RunSummary{}, fmt.Errorf("start monitoring run: %w", err)
	}
	r.logger.Info("monitoring run started", "events", len(events))
	if o.metrics != nil {
		o.metrics.BatchSize.Observe(float64(len(events)))
	}

	var runErr error
	for _, event := range events {
		if runErr = o.processEvent(ctx, r, event); runErr != nil {
			break
		}
	}

	o.publish(ctx, r)
	return o.finish(ctx, r, start, runErr)
}

// newThrottle allows one SMS attempt immediately and then one per interval.
func newThrottle(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func (o *Orchestrator) processEvent(ctx context.Context, r *run, event domain.StormEvent) error {
	event = event.EnsureID()
	if err := event.Validate(); err != nil {
		r.logger.Warn("skipping invalid storm event", "event_id", event.ID, "error", err)
		r.record.EventsRejected++
		return nil
	}

	res, err := o.matcher.FindImpactedProperties(ctx, event)
	if err != nil {
		return err
	}
	r.record.EventsProcessed++
	r.record.PropertiesChecked += res.Checked
	if o.metrics != nil {
		o.metrics.PropertiesChecked.Add(float64(res.Checked))
	}

	for _, m := range res.Matches {
		if err := o.processMatch(ctx, r, event, m); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processMatch(ctx context.Context, r *run, event domain.StormEvent, m domain.Match) error {
	alert, created, err := o.ledger.CreateAlert(ctx, event, m)
	if err != nil {
		return err
	}
	if created {
		r.record.AlertsGenerated++
		r.created = append(r.created, alert)
		if o.metrics != nil {
			o.metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
		}
	} else if o.metrics != nil {
		o.metrics.AlertsDeduplicated.Inc()
	}

	// An existing alert still goes through Dispatch: a run aborted between
	// create and send leaves it unattempted, and the replay must deliver it.
	ch := m.PreferredChannel
	if ch == "" {
		ch = domain.ChannelSMS
	}
	if alert.Attempted(ch) {
		r.alertsReplayed++
		return nil
	}
	if ch == domain.ChannelSMS {
		if err := r.throttle.Wait(ctx); err != nil {
			return fmt.Errorf("wait for sms throttle: %w", err)
		}
	}

	result, err := o.dispatcher.Dispatch(ctx, alert, ch)
	if err != nil {
		return err
	}
	switch result.Outcome {
	case dispatch.OutcomeSent:
		r.record.Sent++
	case dispatch.OutcomeFailed:
		r.record.Failed++
		r.logger.Warn("alert send failed, continuing",
			"alert_id", alert.ID, "property_id", alert.PropertyID, "channel", ch, "error", result.Err)
	case dispatch.OutcomeSkipped:
		if result.Reason == dispatch.ReasonAlreadyAttempted {
			r.alertsReplayed++
		} else {
			r.record.Skipped++
		}
	}
	return nil
}

// publish announces the run's new alerts. Failures are logged, never fatal.
func (o *Orchestrator) publish(ctx context.Context, r *run) {
	if o.publisher == nil || len(r.created) == 0 {
		return
	}
	if err := o.publisher.PublishAlerts(ctx, r.created); err != nil {
		r.logger.Error("publish alerts failed", "alerts", len(r.created), "error", err)
		if o.metrics != nil {
			o.metrics.AlertsPublished.WithLabelValues("error").Add(float64(len(r.created)))
		}
		return
	}
	if o.metrics != nil {
		o.metrics.AlertsPublished.WithLabelValues("success").Add(float64(len(r.created)))
	}
}

// finish finalizes the run record. runErr, when set, is captured on the record
// and returned.
func (o *Orchestrator) finish(ctx context.Context, r *run, start time.Time, runErr error) (domain.RunSummary, error) {
	finished := o.clock.Now().UTC()
	r.record.FinishedAt = &finished
	if runErr != nil {
		r.record.Error = runErr.Error()
	}

	finishErr := o.runs.FinishRun(ctx, r.record)
	if finishErr != nil {
		r.logger.Error("finalize monitoring run failed", "error", finishErr)
	}

	summary := r.record.Summary()
	if runErr != nil {
		r.logger.Error("monitoring run aborted",
			"error", runErr,
			"events_processed", summary.EventsProcessed,
			"alerts_generated", summary.AlertsGenerated,
		)
		o.observeRun(start, runErr)
		return summary, fmt.Errorf("monitoring run %s: %w", r.record.ID, runErr)
	}
	if finishErr != nil {
		o.observeRun(start, finishErr)
		return summary, fmt.Errorf("finalize monitoring run %s: %w", r.record.ID, finishErr)
	}

	r.logger.Info("monitoring run finished",
		"events_processed", summary.EventsProcessed,
		"properties_checked", summary.PropertiesChecked,
		"alerts_generated", summary.AlertsGenerated,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"already_attempted", r.alertsReplayed,
	)
	o.observeRun(start, nil)
	return summary, nil
}

func (o *Orchestrator) observeRun(start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	o.metrics.Runs.WithLabelValues(result).Inc()
	o.metrics.RunDuration.Observe(o.clock.Since(start).Seconds())
}
