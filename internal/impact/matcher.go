// Package impact finds the customer properties a storm event affects and keeps
// the ledger of alerts raised for them.
package impact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
)

// MatchResult is the outcome of one proximity query.
type MatchResult struct {
	Matches []domain.Match
	Checked int // candidate properties evaluated
}

// Matcher finds properties inside a storm event's impact zone.
type Matcher struct {
	properties domain.PropertyStore
	logger     *slog.Logger
}

// NewMatcher creates a Matcher over the given property store.
func NewMatcher(properties domain.PropertyStore, logger *slog.Logger) *Matcher {
	return &Matcher{properties: properties, logger: logger}
}

// FindImpactedProperties returns every notifiable property that opted into the
// event's hazard, lies within its own notification radius (inclusive), and,
// for hail with a measured size, whose hail threshold is met. Matches are
// ordered nearest first. No matches is not an error.
func (m *Matcher) FindImpactedProperties(ctx context.Context, event domain.StormEvent) (MatchResult, error) {
	candidates, err := m.properties.PropertiesNear(ctx, event.Type, event.Geo)
	if err != nil {
		return MatchResult{}, fmt.Errorf("find properties near event %s: %w", event.ID, err)
	}

	result := MatchResult{Checked: len(candidates)}
	for _, p := range candidates {
		distance, ok := matches(event, p)
		if !ok {
			continue
		}
		result.Matches = append(result.Matches, domain.Match{
			PropertyID:       p.ID,
			RepID:            p.RepID,
			DistanceMiles:    distance,
			PreferredChannel: p.PreferredChannel,
		})
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].DistanceMiles < result.Matches[j].DistanceMiles
	})

	m.logger.Debug("proximity match complete",
		"event_id", event.ID,
		"event_type", event.Type,
		"candidates", result.Checked,
		"matches", len(result.Matches),
	)
	return result, nil
}

// matches applies the per-property gates. The store prefilter is not trusted
// to have applied any of them.
func matches(event domain.StormEvent, p domain.CustomerProperty) (float64, bool) {
	if !p.Notifiable() || !p.OptedInto(event.Type) {
		return 0, false
	}
	if event.Type == domain.HazardHail && event.HailSizeInches != nil &&
		*event.HailSizeInches < p.NotifyThresholdHailSize {
		return 0, false
	}
	distance := domain.HaversineMiles(event.Geo, p.Geo)
	if distance > p.NotifyRadiusMiles {
		return 0, false
	}
	return distance, true
}
