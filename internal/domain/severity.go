package domain

// SeverityPolicy holds the bands used by ScoreSeverity. Each band slice lists
// the lower bounds of moderate, severe and critical, in ascending order.
type SeverityPolicy struct {
	HailInches      [3]float64
	WindMph         [3]float64
	TornadoCritical float64 // EF rating at or above which a tornado is critical

	NearMiles float64 // at or within: one level up
	FarMiles  float64 // beyond: one level down

	// NoMagnitude is the base level for events reported without a magnitude.
	NoMagnitude  Severity
	TornadoFloor Severity
}

// DefaultSeverityPolicy uses NWS severe-weather criteria for hail and wind and
// the Enhanced Fujita scale for tornadoes.
//
//	Hail:    <0.75" minor | <1.5" moderate | <2.5" severe | >=2.5" critical
//	Wind:    <50 mph minor | <74 mph moderate | <96 mph severe | >=96 mph critical
//	Tornado: EF0-3 severe | EF4-5 critical
func DefaultSeverityPolicy() SeverityPolicy {
	return SeverityPolicy{
		HailInches:      [3]float64{0.75, 1.5, 2.5},
		WindMph:         [3]float64{50, 74, 96},
		TornadoCritical: 4,
		NearMiles:       1,
		FarMiles:        5,
		NoMagnitude:     SeverityModerate,
		TornadoFloor:    SeveritySevere,
	}
}

// Score maps (hazard, distance, magnitude) to a severity. It is non-decreasing
// in magnitude and non-increasing in distance. A nil magnitude scores from the
// NoMagnitude base.
func (p SeverityPolicy) Score(h Hazard, distanceMiles float64, magnitude *float64) Severity {
	base := p.NoMagnitude.Rank()
	if magnitude != nil {
		switch h {
		case HazardHail:
			base = bandRank(*magnitude, p.HailInches)
		case HazardWind:
			base = bandRank(*magnitude, p.WindMph)
		case HazardTornado:
			base = p.TornadoFloor.Rank()
			if *magnitude >= p.TornadoCritical {
				base = SeverityCritical.Rank()
			}
		}
	}

	switch {
	case distanceMiles <= p.NearMiles:
		base++
	case distanceMiles > p.FarMiles:
		base--
	}

	if h == HazardTornado && base < p.TornadoFloor.Rank() {
		base = p.TornadoFloor.Rank()
	}
	return severityFromRank(base)
}

func bandRank(v float64, bands [3]float64) int {
	r := 0
	for _, lower := range bands {
		if v >= lower {
			r++
		}
	}
	return r
}

// ScoreSeverity scores an event at a distance with the default policy.
func ScoreSeverity(event StormEvent, distanceMiles float64) Severity {
	return DefaultSeverityPolicy().Score(event.Type, distanceMiles, event.Magnitude())
}
