// Package geo validates reported device locations against a target point.
package geo

import (
	"math"

	"fleetdispatch/internal/types"
)

const earthRadiusMeters = 6371000.0

const (
	DefaultRadiusMeters   = 150.0
	DefaultAccuracyMeters = 50.0
)

// Reading is a device-reported position with its horizontal accuracy.
type Reading struct {
	Lat            float64
	Lng            float64
	AccuracyMeters float64
}

// Policy holds the thresholds a reading is checked against.
type Policy struct {
	RadiusMeters   float64
	AccuracyMeters float64
}

// DefaultPolicy returns the 150 m radius / 50 m accuracy policy.
func DefaultPolicy() Policy {
	return Policy{RadiusMeters: DefaultRadiusMeters, AccuracyMeters: DefaultAccuracyMeters}
}

type Result struct {
	Passed             bool
	Distance           float64 // meters
	WithinRadius       bool
	AccuracyAcceptable bool
}

// Validate checks r against target. A reading passes only when it is both
// accurate enough and within the radius.
func Validate(r Reading, target types.Point, p Policy) Result {
	if p.RadiusMeters <= 0 {
		p.RadiusMeters = DefaultRadiusMeters
	}
	if p.AccuracyMeters <= 0 {
		p.AccuracyMeters = DefaultAccuracyMeters
	}
	d := HaversineMeters(types.Point{Lat: r.Lat, Lng: r.Lng}, target)
	res := Result{
		Distance:           d,
		WithinRadius:       d <= p.RadiusMeters,
		AccuracyAcceptable: r.AccuracyMeters >= 0 && r.AccuracyMeters <= p.AccuracyMeters,
	}
	res.Passed = res.WithinRadius && res.AccuracyAcceptable
	return res
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// OffsetNorth returns the point d meters due north of p.
func OffsetNorth(p types.Point, d float64) types.Point {
	return types.Point{Lat: p.Lat + d/earthRadiusMeters*180/math.Pi, Lng: p.Lng}
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
