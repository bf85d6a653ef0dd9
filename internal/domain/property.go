package domain

import "time"

// Channel is a notification medium with an independent outcome per alert.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// ParseChannel validates a channel name.
func ParseChannel(value string) (Channel, bool) {
	switch Channel(value) {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return Channel(value), true
	default:
		return "", false
	}
}

// CustomerProperty is a monitored address owned by a single rep.
type CustomerProperty struct {
	ID      string `json:"id"`
	RepID   string `json:"rep_id"`
	Geo     Geo    `json:"geo"`
	Address string `json:"address"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`

	NotifyHail              bool    `json:"notify_hail"`
	NotifyWind              bool    `json:"notify_wind"`
	NotifyTornado           bool    `json:"notify_tornado"`
	NotifyThresholdHailSize float64 `json:"notify_threshold_hail_size"`
	NotifyRadiusMiles       float64 `json:"notify_radius_miles"`
	PreferredChannel        Channel `json:"preferred_channel"`
	DoNotContact            bool    `json:"do_not_contact"`
	IsActive                bool    `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OptedInto reports whether the property wants alerts for the given hazard.
func (p CustomerProperty) OptedInto(h Hazard) bool {
	switch h {
	case HazardHail:
		return p.NotifyHail
	case HazardWind:
		return p.NotifyWind
	case HazardTornado:
		return p.NotifyTornado
	default:
		return false
	}
}

// Notifiable reports whether the property may be matched at all.
func (p CustomerProperty) Notifiable() bool {
	return p.IsActive && !p.DoNotContact
}

// RepContact holds the delivery addresses of the sales rep who owns a property.
type RepContact struct {
	RepID     string `json:"rep_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	PushToken string `json:"push_token,omitempty"`
}

// Address returns the recipient for a channel, or "" when the rep has none.
func (r RepContact) Address(ch Channel) string {
	switch ch {
	case ChannelSMS:
		return r.Phone
	case ChannelEmail:
		return r.Email
	case ChannelPush:
		return r.PushToken
	default:
		return ""
	}
}
