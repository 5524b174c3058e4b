// Package geo provides the geofence membership check used for on-site
// verification: a point is on site when it lies within a circular radius of
// the project's registered coordinates.
package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64
	Longitude float64
}

// IsZero reports whether the point is unset. (0,0) is open ocean; no project
// registers there, so the zero value doubles as "no location reported".
func (p Point) IsZero() bool { return p.Latitude == 0 && p.Longitude == 0 }

// DistanceM returns the great-circle distance between two points in meters,
// using the haversine formula.
func DistanceM(a, b Point) float64 {
	latA := a.Latitude * math.Pi / 180
	latB := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// WithinRadius reports whether candidate lies within radiusM meters of center.
// Exactly at the boundary counts as inside.
func WithinRadius(center, candidate Point, radiusM float64) bool {
	return DistanceM(center, candidate) <= radiusM
}
