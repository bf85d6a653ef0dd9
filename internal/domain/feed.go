package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawEvent represents an unprocessed message from the storm event topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// feedRecord accepts both the ETL service's enriched event shape
// ({id, type, geo, magnitude, begin_time}) and the flat ingestion shape
// ({latitude, longitude, eventType, stormDate, hailSizeInches, windSpeedMph}).
type feedRecord struct {
	ID            string `json:"id"`
	SourceEventID string `json:"sourceEventId"`

	Type      string `json:"type"`
	EventType string `json:"eventType"`

	Geo       *Geo            `json:"geo"`
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`

	Magnitude      json.RawMessage `json:"magnitude"`
	HailSizeInches json.RawMessage `json:"hailSizeInches"`
	WindSpeedMph   json.RawMessage `json:"windSpeedMph"`
	TornadoRating  json.RawMessage `json:"tornadoRating"`

	BeginTime string `json:"begin_time"`
	StormDate string `json:"stormDate"`
}

// ParseRawEvent decodes a feed message into a validated StormEvent with an ID.
// Malformed or missing magnitude fields decode as nil rather than failing.
func ParseRawEvent(raw RawEvent) (StormEvent, error) {
	var rec feedRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return StormEvent{}, fmt.Errorf("parse raw event: %w", err)
	}

	typeName := rec.Type
	if typeName == "" {
		typeName = rec.EventType
	}

	var geo Geo
	if rec.Geo != nil {
		geo = *rec.Geo
	}
	if lat := nonZero(parseOptionalFloat(rec.Latitude)); lat != nil {
		geo.Lat = *lat
	}
	if lon := nonZero(parseOptionalFloat(rec.Longitude)); lon != nil {
		geo.Lon = *lon
	}

	date := parseEventDate(rec.StormDate)
	if date.IsZero() {
		date = parseEventDate(rec.BeginTime)
	}
	if date.IsZero() {
		date = raw.Timestamp
	}

	event := StormEvent{
		ID:            rec.ID,
		SourceEventID: rec.SourceEventID,
		Type:          Hazard(strings.ToLower(strings.TrimSpace(typeName))),
		Geo:           geo,
		StormDate:     date.UTC(),
	}

	generic := parseOptionalFloat(rec.Magnitude)
	switch event.Type {
	case HazardHail:
		event.HailSizeInches = normalizeHailSize(firstNonNil(nonZero(parseOptionalFloat(rec.HailSizeInches)), nonZero(generic)))
	case HazardWind:
		event.WindSpeedMph = firstNonNil(nonZero(parseOptionalFloat(rec.WindSpeedMph)), nonZero(generic))
	case HazardTornado:
		event.TornadoRating = firstNonNil(parseOptionalFloat(rec.TornadoRating), generic)
	}

	if err := event.Validate(); err != nil {
		return StormEvent{}, err
	}
	return event.EnsureID(), nil
}

// parseOptionalFloat reads a JSON number or numeric string. Absent, null,
// "UNK" and unparseable values all yield nil. EF/F prefixes on tornado
// ratings are stripped, so "EF0" is a real zero.
func parseOptionalFloat(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "UNK") {
		return nil
	}
	s = strings.TrimPrefix(s, "EF")
	s = strings.TrimPrefix(s, "F")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// nonZero treats a reported zero as missing. Feeds write 0 for unmeasured hail
// size, wind speed and coordinates.
func nonZero(v *float64) *float64 {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}

// normalizeHailSize corrects hail reported in hundredths of inches
// (e.g. 175 = 1.75in). The largest US hail on record is about 8 inches, so
// values >= 10 are assumed to use that encoding.
func normalizeHailSize(size *float64) *float64 {
	if size == nil || *size < 10 {
		return size
	}
	v := *size / 100.0
	return &v
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

var eventDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseEventDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
