// Package dispatch delivers impact alerts to the owning rep over SMS, email
// and push, and records each channel's outcome on the alert.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/couchcryptid/storm-impact-alerts/internal/observability"
	"github.com/couchcryptid/storm-impact-alerts/internal/ratelimit"
	"github.com/jonboulle/clockwork"
)

// Outcome is the result class of one channel send.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Skip reasons.
const (
	ReasonRateLimited      = "rate limited"
	ReasonAlreadyAttempted = "already attempted"
)

// Result describes what happened to one (alert, channel) send.
type Result struct {
	AlertID           string
	Channel           domain.Channel
	Outcome           Outcome
	ProviderMessageID string
	Reason            string
	Err               error // cause of a failed send
}

// Sender delivers a message over one channel and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Ledger is the subset of the alert ledger the dispatcher writes to.
type Ledger interface {
	Get(ctx context.Context, alertID string) (domain.ImpactAlert, error)
	RecordDelivery(ctx context.Context, alertID string, result domain.DeliveryResult) (domain.ImpactAlert, error)
}

// Config wires a Dispatcher. Senders may omit channels that are not configured.
type Config struct {
	Ledger     Ledger
	Properties domain.PropertyStore
	Reps       domain.RepDirectory
	Limiter    *ratelimit.Limiter
	Senders    map[domain.Channel]Sender
	Region     string // default region for phone parsing
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Dispatcher sends alerts and records outcomes. Send failures are values in
// Result; only ledger/store failures are returned as errors.
type Dispatcher struct {
	ledger     Ledger
	properties domain.PropertyStore
	reps       domain.RepDirectory
	limiter    *ratelimit.Limiter
	senders    map[domain.Channel]Sender
	region     string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	region := cfg.Region
	if region == "" {
		region = "US"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		ledger:     cfg.Ledger,
		properties: cfg.Properties,
		reps:       cfg.Reps,
		limiter:    cfg.Limiter,
		senders:    cfg.Senders,
		region:     region,
		clock:      clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Dispatch performs the single automatic send of alert on ch. A channel that
// already has an attempt recorded is skipped; use Resend for an explicit retry.
func (d *Dispatcher) Dispatch(ctx context.Context, alert domain.ImpactAlert, ch domain.Channel) (Result, error) {
	if alert.Attempted(ch) {
		return Result{AlertID: alert.ID, Channel: ch, Outcome: OutcomeSkipped, Reason: ReasonAlreadyAttempted}, nil
	}
	return d.send(ctx, alert, ch)
}

// Resend is the operator-triggered retry of an alert on ch. SMS remains subject
// to the rate limiter.
func (d *Dispatcher) Resend(ctx context.Context, alertID string, ch domain.Channel) (Result, error) {
	if _, ok := domain.ParseChannel(string(ch)); !ok {
		return Result{}, fmt.Errorf("resend alert %s: unknown channel %q", alertID, ch)
	}
	alert, err := d.ledger.Get(ctx, alertID)
	if err != nil {
		return Result{}, fmt.Errorf("resend alert %s: %w", alertID, err)
	}
	d.logger.Info("manual resend requested", "alert_id", alertID, "channel", ch)
	return d.send(ctx, alert, ch)
}

func (d *Dispatcher) send(ctx context.Context, alert domain.ImpactAlert, ch domain.Channel) (Result, error) {
	sender, ok := d.senders[ch]
	if !ok || sender == nil {
		return d.fail(ctx, alert, ch, fmt.Errorf("%s: %w", ch, domain.ErrChannelUnavailable))
	}

	rep, err := d.reps.RepContact(ctx, alert.RepID)
	if errors.Is(err, domain.ErrNotFound) {
		return d.fail(ctx, alert, ch, fmt.Errorf("rep %s: %w", alert.RepID, err))
	}
	if err != nil {
		return Result{}, fmt.Errorf("look up rep %s: %w", alert.RepID, err)
	}

	to := rep.Address(ch)
	if to == "" {
		return d.fail(ctx, alert, ch, fmt.Errorf("rep %s has no %s address", alert.RepID, ch))
	}

	var permit *ratelimit.Permit
	if ch == domain.ChannelSMS {
		to, err = NormalizePhone(to, d.region)
		if err != nil {
			return d.fail(ctx, alert, ch, err)
		}
		granted := true
		if d.limiter != nil {
			permit, granted = d.limiter.Acquire(ctx, to, alert.PropertyID, alert.ID)
		}
		if !granted {
			if _, err := d.ledger.RecordDelivery(ctx, alert.ID, domain.DeliveryResult{
				Channel: ch,
				Error:   ReasonRateLimited,
				At:      d.clock.Now().UTC(),
			}); err != nil {
				return Result{}, err
			}
			d.count(ch, OutcomeSkipped)
			d.logger.Info("sms skipped: rate limited", "alert_id", alert.ID, "property_id", alert.PropertyID)
			return Result{AlertID: alert.ID, Channel: ch, Outcome: OutcomeSkipped, Reason: ReasonRateLimited}, nil
		}
	}

	property, err := d.properties.GetProperty(ctx, alert.PropertyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		permit.Release(ctx)
		return Result{}, fmt.Errorf("look up property %s: %w", alert.PropertyID, err)
	}

	msg := composeMessage(alert, ch, to, property)
	start := d.clock.Now()
	providerID, sendErr := sender.Send(ctx, msg)
	if d.metrics != nil {
		d.metrics.SendDuration.WithLabelValues(string(ch)).Observe(d.clock.Since(start).Seconds())
	}

	if sendErr != nil {
		permit.Release(ctx)
		d.logger.Warn("send failed", "alert_id", alert.ID, "channel", ch, "error", sendErr)
		return d.fail(ctx, alert, ch, sendErr)
	}

	permit.Confirm(ctx, providerID)
	if _, err := d.ledger.RecordDelivery(ctx, alert.ID, domain.DeliveryResult{
		Channel:           ch,
		Success:           true,
		ProviderMessageID: providerID,
		At:                d.clock.Now().UTC(),
	}); err != nil {
		return Result{}, err
	}
	d.count(ch, OutcomeSent)
	d.logger.Info("alert sent", "alert_id", alert.ID, "channel", ch, "provider_message_id", providerID)
	return Result{AlertID: alert.ID, Channel: ch, Outcome: OutcomeSent, ProviderMessageID: providerID}, nil
}

// fail persists a failure reason on the alert without discarding it.
func (d *Dispatcher) fail(ctx context.Context, alert domain.ImpactAlert, ch domain.Channel, cause error) (Result, error) {
	if _, err := d.ledger.RecordDelivery(ctx, alert.ID, domain.DeliveryResult{
		Channel: ch,
		Error:   cause.Error(),
		At:      d.clock.Now().UTC(),
	}); err != nil {
		return Result{}, err
	}
	d.count(ch, OutcomeFailed)
	return Result{AlertID: alert.ID, Channel: ch, Outcome: OutcomeFailed, Reason: cause.Error(), Err: cause}, nil
}

func (d *Dispatcher) count(ch domain.Channel, o Outcome) {
	if d.metrics != nil {
		d.metrics.Sends.WithLabelValues(string(ch), string(o)).Inc()
	}
}
