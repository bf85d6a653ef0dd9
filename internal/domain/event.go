package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Hazard is the storm event type a property can opt into.
type Hazard string

const (
	HazardHail    Hazard = "hail"
	HazardWind    Hazard = "wind"
	HazardTornado Hazard = "tornado"
)

// ParseHazard validates a hazard name. Only exact lowercase matches are accepted,
// mirroring the event types emitted by the ETL service.
func ParseHazard(value string) (Hazard, bool) {
	switch Hazard(value) {
	case HazardHail, HazardWind, HazardTornado:
		return Hazard(value), true
	default:
		return "", false
	}
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// StormEvent is a newly observed severe-weather event supplied by the ingestion
// collaborator. Magnitude fields are optional; a nil magnitude means no
// magnitude gate applies to that event.
type StormEvent struct {
	ID             string    `json:"id"`
	SourceEventID  string    `json:"source_event_id,omitempty"`
	Type           Hazard    `json:"type"`
	Geo            Geo       `json:"geo"`
	StormDate      time.Time `json:"storm_date"`
	HailSizeInches *float64  `json:"hail_size_inches,omitempty"`
	WindSpeedMph   *float64  `json:"wind_speed_mph,omitempty"`
	TornadoRating  *float64  `json:"tornado_rating,omitempty"` // EF scale 0-5
}

// Validate rejects events missing the fields proximity matching depends on.
func (e StormEvent) Validate() error {
	if _, ok := ParseHazard(string(e.Type)); !ok {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	if e.Geo.Lat < -90 || e.Geo.Lat > 90 || e.Geo.Lon < -180 || e.Geo.Lon > 180 {
		return fmt.Errorf("%w: coordinates out of range (%g, %g)", ErrInvalidEvent, e.Geo.Lat, e.Geo.Lon)
	}
	if e.Geo.Lat == 0 && e.Geo.Lon == 0 {
		return fmt.Errorf("%w: missing coordinates", ErrInvalidEvent)
	}
	if e.StormDate.IsZero() {
		return fmt.Errorf("%w: missing storm date", ErrInvalidEvent)
	}
	return nil
}

// Magnitude returns the type-specific magnitude, or nil when unmeasured.
func (e StormEvent) Magnitude() *float64 {
	switch e.Type {
	case HazardHail:
		return e.HailSizeInches
	case HazardWind:
		return e.WindSpeedMph
	case HazardTornado:
		return e.TornadoRating
	default:
		return nil
	}
}

// EnsureID fills ID from the source event id, or derives a deterministic one
// when the feed did not supply it. Re-ingesting the same observation yields the
// same ID, which is what makes alert creation idempotent across replays.
func (e StormEvent) EnsureID() StormEvent {
	if e.ID != "" {
		return e
	}
	if e.SourceEventID != "" {
		e.ID = e.SourceEventID
		return e
	}
	var mag float64
	if m := e.Magnitude(); m != nil {
		mag = *m
	}
	e.ID = generateEventID(e.Type, e.Geo.Lat, e.Geo.Lon, e.StormDate, mag)
	return e
}

// generateEventID produces a deterministic ID from the event's key fields.
func generateEventID(eventType Hazard, lat, lon float64, date time.Time, magnitude float64) string {
	input := fmt.Sprintf("%s|%.4f|%.4f|%s|%g", eventType, lat, lon, date.UTC().Format(time.RFC3339), magnitude)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if eventType == "" {
		return short
	}
	return string(eventType) + "-" + short
}
