// Package domain models storm-impact detection: customer properties, storm
// events, impact alerts and monitoring runs.
//
// # Event Feed
//
// Storm events arrive from the ETL service's sink topic as enriched JSON
// ({id, type, geo, magnitude, begin_time}) or from direct ingestion in a flat
// shape ({latitude, longitude, eventType, stormDate, hailSizeInches,
// windSpeedMph, sourceEventId}). Both decode through [ParseRawEvent].
//
// Magnitude handling:
//
//	Hail:    inches; values >= 10 are hundredths of inches (175 = 1.75")
//	Wind:    miles per hour
//	Tornado: Enhanced Fujita rating 0-5, "EF"/"F" prefix stripped
//
// "UNK", empty, zero and malformed magnitudes decode as nil, meaning no
// magnitude gate applies to the event.
//
// # Distance
//
// Distances are great-circle miles computed with the haversine formula on a
// spherical earth of radius 3958.8 mi. A property matches when the distance is
// less than or equal to its notification radius.
//
// # Severity
//
// Severity is ordinal (minor < moderate < severe < critical) and scored once
// at alert creation by [SeverityPolicy.Score]:
//
//	Hail:    <0.75" minor | <1.5" moderate | <2.5" severe | >=2.5" critical
//	Wind:    <50 mph minor | <74 mph moderate | <96 mph severe | >=96 mph critical
//	Tornado: severe, EF4+ critical
//	No magnitude: moderate
//
// The base level moves up one within 1 mile and down one beyond 5 miles.
// Tornadoes never score below severe.
//
// # ID Generation
//
// Events without an upstream id get a deterministic SHA-256 id over
// type|lat|lon|date|magnitude. Replaying the same observation yields the same
// id, so the (property, event) alert key stays stable across redeliveries.
package domain
