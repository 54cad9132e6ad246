package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	// Jakarta to Bandung is roughly 115-120 km.
	d := haversineMeters(-6.2, 106.816, -6.9175, 107.6191)
	assert.Greater(t, d, 100000.0)
	assert.Less(t, d, 140000.0)
}

func TestHaversineMetersZeroDistance(t *testing.T) {
	assert.Zero(t, haversineMeters(37.77, -122.42, 37.77, -122.42))
}

func TestHaversineMetersShortDistance(t *testing.T) {
	// One thousandth of a degree of latitude is about 111 meters.
	d := haversineMeters(37.770, -122.42, 37.771, -122.42)
	assert.InDelta(t, 111.0, d, 1.0)
}
