package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceM_KnownPairs(t *testing.T) {
	// Empire State Building to One World Trade Center, roughly 5.4 km.
	esb := Point{Latitude: 40.748440, Longitude: -73.985664}
	owtc := Point{Latitude: 40.712742, Longitude: -74.013382}

	d := DistanceM(esb, owtc)
	assert.InDelta(t, 4600, d, 200)
}

func TestDistanceM_SamePointIsZero(t *testing.T) {
	p := Point{Latitude: 51.5, Longitude: -0.12}
	assert.Zero(t, DistanceM(p, p))
}

func TestWithinRadius(t *testing.T) {
	center := Point{Latitude: 40.0, Longitude: -74.0}
	// ~111m per 0.001 degrees of latitude.
	near := Point{Latitude: 40.0004, Longitude: -74.0}
	far := Point{Latitude: 40.01, Longitude: -74.0}

	assert.True(t, WithinRadius(center, near, 500))
	assert.False(t, WithinRadius(center, far, 500))
}

func TestWithinRadius_BoundaryCountsAsInside(t *testing.T) {
	center := Point{Latitude: 40.0, Longitude: -74.0}
	d := DistanceM(center, Point{Latitude: 40.001, Longitude: -74.0})
	assert.True(t, WithinRadius(center, Point{Latitude: 40.001, Longitude: -74.0}, d))
}
