package maps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"fleetdispatch/internal/types"
)

type fakeDirections struct {
	routes []maps.Route
	err    error
	req    *maps.DirectionsRequest
}

func (f *fakeDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	f.req = r
	return f.routes, nil, f.err
}

func TestEstimateDurationSumsLegs(t *testing.T) {
	fake := &fakeDirections{routes: []maps.Route{{Legs: []*maps.Leg{
		{Duration: 10 * time.Minute},
		{Duration: 12 * time.Minute, DurationInTraffic: 20 * time.Minute},
	}}}}
	s := &RouteService{client: fake, region: "TW"}

	d, err := s.EstimateDuration(context.Background(), types.Point{Lat: 25.033, Lng: 121.565}, types.Point{Lat: 25.0478, Lng: 121.5318})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)
	assert.Equal(t, "25.033000,121.565000", fake.req.Origin)
	assert.Equal(t, maps.TravelModeDriving, fake.req.Mode)
}

func TestEstimateDurationErrors(t *testing.T) {
	s := &RouteService{client: &fakeDirections{}}
	_, err := s.EstimateDuration(context.Background(), types.Point{}, types.Point{})
	assert.ErrorIs(t, err, ErrNoRoute)

	s = &RouteService{client: &fakeDirections{err: errors.New("OVER_QUERY_LIMIT")}}
	_, err = s.EstimateDuration(context.Background(), types.Point{}, types.Point{})
	assert.ErrorContains(t, err, "OVER_QUERY_LIMIT")
}
