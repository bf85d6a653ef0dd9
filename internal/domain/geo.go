package domain

import "math"

// EarthRadiusMiles is the mean earth radius used by the haversine formula.
const EarthRadiusMiles = 3958.8

// milesPerDegree is slightly below the true ~69.09 so boxes built from it
// always contain the haversine circle they approximate.
const milesPerDegree = 69.0

// HaversineMiles returns the great-circle distance between two points.
func HaversineMiles(a, b Geo) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox is a lat/lon rectangle used to prefilter candidates before the
// exact distance check.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoxAround returns a box that contains every point within radiusMiles of center.
func BoxAround(center Geo, radiusMiles float64) BoundingBox {
	dLat := radiusMiles / milesPerDegree
	cos := math.Cos(center.Lat * math.Pi / 180)
	dLon := 180.0
	if cos > 0.01 {
		dLon = math.Min(180, radiusMiles/(milesPerDegree*cos))
	}
	return BoundingBox{
		MinLat: center.Lat - dLat,
		MaxLat: center.Lat + dLat,
		MinLon: center.Lon - dLon,
		MaxLon: center.Lon + dLon,
	}
}

// Contains reports whether g lies inside the box. Boxes that cross the
// antimeridian are treated as covering every longitude.
func (b BoundingBox) Contains(g Geo) bool {
	if g.Lat < b.MinLat || g.Lat > b.MaxLat {
		return false
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return true
	}
	return g.Lon >= b.MinLon && g.Lon <= b.MaxLon
}
