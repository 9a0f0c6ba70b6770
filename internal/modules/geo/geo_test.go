package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetdispatch/internal/types"
)

var pickup = types.Point{Lat: 25.0330, Lng: 121.5654}

func readingAt(d, accuracy float64) Reading {
	p := OffsetNorth(pickup, d)
	return Reading{Lat: p.Lat, Lng: p.Lng, AccuracyMeters: accuracy}
}

func TestHaversineMeters_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		want      float64
		tolerance float64
	}{
		{"same point", pickup, pickup, 0, 0.001},
		{"Taipei 101 to Taipei Main Station", types.Point{Lat: 25.0340, Lng: 121.5645}, types.Point{Lat: 25.0478, Lng: 121.5170}, 5000, 400},
		{"New York to Los Angeles", types.Point{Lat: 40.7128, Lng: -74.0060}, types.Point{Lat: 34.0522, Lng: -118.2437}, 3944000, 50000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMeters(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, tt.tolerance)
		})
	}
}

func TestHaversineMeters_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	assert.InDelta(t, HaversineMeters(a, b), HaversineMeters(b, a), 0.0001)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name           string
		distance       float64
		accuracy       float64
		passed         bool
		withinRadius   bool
		accuracyPassed bool
	}{
		{"close and accurate", 100, 10, true, true, true},
		{"close but inaccurate", 100, 80, false, true, false},
		{"far and accurate", 300, 10, false, false, true},
		{"far and inaccurate", 300, 80, false, false, false},
		{"exactly on accuracy threshold", 10, 50, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(readingAt(tt.distance, tt.accuracy), pickup, DefaultPolicy())
			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, tt.withinRadius, res.WithinRadius)
			assert.Equal(t, tt.accuracyPassed, res.AccuracyAcceptable)
			assert.InDelta(t, tt.distance, res.Distance, 1.0)
		})
	}
}

func TestValidate_ZeroPolicyUsesDefaults(t *testing.T) {
	res := Validate(readingAt(140, 40), pickup, Policy{})
	assert.True(t, res.Passed)

	res = Validate(readingAt(160, 40), pickup, Policy{})
	assert.False(t, res.WithinRadius)
}

func TestValidate_NegativeAccuracyIsUnacceptable(t *testing.T) {
	res := Validate(readingAt(10, -1), pickup, DefaultPolicy())
	assert.False(t, res.AccuracyAcceptable)
	assert.False(t, res.Passed)
}

func TestOffsetNorth(t *testing.T) {
	p := OffsetNorth(pickup, 300)
	assert.Less(t, math.Abs(HaversineMeters(pickup, p)-300), 0.5)
}
