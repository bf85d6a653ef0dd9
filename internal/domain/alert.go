package domain

import (
	"fmt"
	"time"
)

// Severity is an ordinal classification of how seriously a storm likely
// affected a property: minor < moderate < severe < critical.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{SeverityMinor, SeverityModerate, SeveritySevere, SeverityCritical}

// Rank returns the ordinal position of s, or -1 for an unknown value.
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// severityFromRank clamps r into the valid range.
func severityFromRank(r int) Severity {
	if r < 0 {
		r = 0
	}
	if r >= len(severityOrder) {
		r = len(severityOrder) - 1
	}
	return severityOrder[r]
}

// AlertStatus is the coarse lifecycle state of an ImpactAlert.
type AlertStatus string

const (
	StatusPending    AlertStatus = "pending"
	StatusSent       AlertStatus = "sent"
	StatusViewed     AlertStatus = "viewed"
	StatusContacted  AlertStatus = "contacted"
	StatusConverted  AlertStatus = "converted"
	StatusNotPursued AlertStatus = "not_pursued"
)

// ParseAlertStatus validates a status name.
func ParseAlertStatus(value string) (AlertStatus, error) {
	switch s := AlertStatus(value); s {
	case StatusPending, StatusSent, StatusViewed, StatusContacted, StatusConverted, StatusNotPursued:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

// Terminal reports whether no further automated or human transition is expected.
func (s AlertStatus) Terminal() bool {
	return s == StatusConverted || s == StatusNotPursued
}

// Outcome is the rep-recorded result of working an alert.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeContacted  Outcome = "contacted"
	OutcomeConverted  Outcome = "converted"
	OutcomeNotPursued Outcome = "not_pursued"
)

// OutcomeFor maps a human-driven status to the outcome recorded alongside it.
// The second return is false for statuses that leave the outcome untouched.
func OutcomeFor(s AlertStatus) (Outcome, bool) {
	switch s {
	case StatusContacted:
		return OutcomeContacted, true
	case StatusConverted:
		return OutcomeConverted, true
	case StatusNotPursued:
		return OutcomeNotPursued, true
	default:
		return "", false
	}
}

// ChannelDelivery records the outcome of the automated send on one channel.
type ChannelDelivery struct {
	Sent              bool       `json:"sent"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	AttemptedAt       *time.Time `json:"attempted_at,omitempty"`
}

// ImpactAlert is one alert instance for one (storm event, property) pair.
// Event facts and severity are immutable once created.
type ImpactAlert struct {
	ID           string `json:"id"`
	PropertyID   string `json:"property_id"`
	RepID        string `json:"rep_id"`
	StormEventID string `json:"storm_event_id"`

	EventType      Hazard    `json:"event_type"`
	EventDate      time.Time `json:"event_date"`
	DistanceMiles  float64   `json:"distance_miles"`
	HailSizeInches *float64  `json:"hail_size_inches,omitempty"`
	WindSpeedMph   *float64  `json:"wind_speed_mph,omitempty"`
	Severity       Severity  `json:"severity"`

	Status AlertStatus     `json:"status"`
	SMS    ChannelDelivery `json:"sms"`
	Email  ChannelDelivery `json:"email"`
	Push   ChannelDelivery `json:"push"`

	Outcome        Outcome    `json:"outcome"`
	ConvertedJobID string     `json:"converted_job_id,omitempty"`
	ConversionDate *time.Time `json:"conversion_date,omitempty"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Delivery returns a pointer to the delivery record for ch, or nil for an
// unknown channel.
func (a *ImpactAlert) Delivery(ch Channel) *ChannelDelivery {
	switch ch {
	case ChannelSMS:
		return &a.SMS
	case ChannelEmail:
		return &a.Email
	case ChannelPush:
		return &a.Push
	default:
		return nil
	}
}

// Attempted reports whether ch already has a send attempt recorded.
func (a *ImpactAlert) Attempted(ch Channel) bool {
	d := a.Delivery(ch)
	return d != nil && (d.Sent || d.AttemptedAt != nil)
}

// DeliveryResult is what a channel send reports back to the ledger.
type DeliveryResult struct {
	Channel           Channel
	Success           bool
	ProviderMessageID string
	Error             string
	At                time.Time
}

// ApplyDelivery records a channel outcome on the alert. A success promotes a
// pending alert to sent; later human-driven states are left alone.
func (a *ImpactAlert) ApplyDelivery(r DeliveryResult) {
	d := a.Delivery(r.Channel)
	if d == nil {
		return
	}
	at := r.At
	d.AttemptedAt = &at
	if r.Success {
		d.Sent = true
		d.SentAt = &at
		d.ProviderMessageID = r.ProviderMessageID
		d.Error = ""
		if a.Status == StatusPending {
			a.Status = StatusSent
		}
	} else {
		d.Error = r.Error
	}
	a.UpdatedAt = at
}

// StatusChange is a human-driven transition. JobID and ConversionDate are
// required when Status is converted.
type StatusChange struct {
	Status         AlertStatus
	JobID          string
	ConversionDate *time.Time
	At             time.Time
}

// Validate checks the fields a transition needs to keep the audit trail consistent.
func (c StatusChange) Validate() error {
	if _, err := ParseAlertStatus(string(c.Status)); err != nil {
		return err
	}
	if c.Status == StatusConverted && (c.JobID == "" || c.ConversionDate == nil) {
		return ErrMissingConversion
	}
	return nil
}

// ApplyStatus records a transition without enforcing ordering; the UI owns that.
func (a *ImpactAlert) ApplyStatus(c StatusChange) {
	a.Status = c.Status
	if o, ok := OutcomeFor(c.Status); ok {
		a.Outcome = o
	}
	if c.Status == StatusConverted {
		a.ConvertedJobID = c.JobID
		d := *c.ConversionDate
		a.ConversionDate = &d
	}
	a.UpdatedAt = c.At
}

// NewImpactAlert builds a pending alert for a matched property.
func NewImpactAlert(id string, event StormEvent, m Match, severity Severity, now time.Time) ImpactAlert {
	return ImpactAlert{
		ID:             id,
		PropertyID:     m.PropertyID,
		RepID:          m.RepID,
		StormEventID:   event.ID,
		EventType:      event.Type,
		EventDate:      event.StormDate,
		DistanceMiles:  m.DistanceMiles,
		HailSizeInches: event.HailSizeInches,
		WindSpeedMph:   event.WindSpeedMph,
		Severity:       severity,
		Status:         StatusPending,
		Outcome:        OutcomePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Match is a property found inside a storm event's impact zone.
type Match struct {
	PropertyID       string  `json:"property_id"`
	RepID            string  `json:"rep_id"`
	DistanceMiles    float64 `json:"distance_miles"`
	PreferredChannel Channel `json:"preferred_channel"`
}

// ImpactStats summarizes a rep's alerts over a lookback window.
type ImpactStats struct {
	RepID          string           `json:"rep_id"`
	Days           int              `json:"days"`
	TotalAlerts    int              `json:"total_alerts"`
	BySeverity     map[Severity]int `json:"by_severity"`
	SMSSent        int              `json:"sms_sent"`
	Contacted      int              `json:"contacted"`
	Converted      int              `json:"converted"`
	NotPursued     int              `json:"not_pursued"`
	Dismissed      int              `json:"dismissed"`
	ConversionRate float64          `json:"conversion_rate"`
}

// Accumulate folds one alert into the stats.
func (s *ImpactStats) Accumulate(a ImpactAlert) {
	if s.BySeverity == nil {
		s.BySeverity = make(map[Severity]int)
	}
	s.TotalAlerts++
	s.BySeverity[a.Severity]++
	if a.SMS.Sent {
		s.SMSSent++
	}
	switch a.Outcome {
	case OutcomeContacted:
		s.Contacted++
	case OutcomeConverted:
		s.Converted++
	case OutcomeNotPursued:
		s.NotPursued++
	}
	if a.DismissedAt != nil {
		s.Dismissed++
	}
	if s.TotalAlerts > 0 {
		s.ConversionRate = float64(s.Converted) / float64(s.TotalAlerts)
	}
}
