package dispatch

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
)

// Message is the channel-neutral payload handed to a Sender.
type Message struct {
	AlertID string
	Channel domain.Channel
	To      string
	Subject string
	Body    string
}

func composeMessage(alert domain.ImpactAlert, ch domain.Channel, to string, property domain.CustomerProperty) Message {
	where := propertyLabel(alert, property)
	what := describeEvent(alert)
	level := strings.ToUpper(string(alert.Severity))

	msg := Message{
		AlertID: alert.ID,
		Channel: ch,
		To:      to,
		Subject: fmt.Sprintf("[%s] Storm impact: %s near %s", level, what, where),
	}

	switch ch {
	case domain.ChannelEmail:
		msg.Body = fmt.Sprintf(
			"A %s event on %s passed %.1f miles from %s.\n\nSeverity: %s\nAlert: %s\n\nReach out to the homeowner to offer an inspection.",
			what, alert.EventDate.Format("Jan 2, 2006"), alert.DistanceMiles, where, alert.Severity, alert.ID,
		)
	default:
		msg.Body = fmt.Sprintf("Storm alert (%s): %s %.1f mi from %s on %s. Alert %s",
			alert.Severity, what, alert.DistanceMiles, where, alert.EventDate.Format("Jan 2"), alert.ID)
	}
	return msg
}

func describeEvent(alert domain.ImpactAlert) string {
	switch alert.EventType {
	case domain.HazardHail:
		if alert.HailSizeInches != nil {
			return fmt.Sprintf("%.2f\" hail", *alert.HailSizeInches)
		}
		return "hail"
	case domain.HazardWind:
		if alert.WindSpeedMph != nil {
			return fmt.Sprintf("%.0f mph wind", *alert.WindSpeedMph)
		}
		return "high wind"
	case domain.HazardTornado:
		return "tornado"
	default:
		return string(alert.EventType)
	}
}

func propertyLabel(alert domain.ImpactAlert, p domain.CustomerProperty) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Address, p.City, p.State} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "property " + alert.PropertyID
	}
	return strings.Join(parts, ", ")
}
