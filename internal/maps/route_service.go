// README: Google Maps Directions client estimating trip durations for new bookings.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"fleetdispatch/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// directionsAPI is the part of *maps.Client the estimator uses.
type directionsAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService estimates driving time between two points.
type RouteService struct {
	client directionsAPI
	region string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, region: "TW"}, nil
}

// EstimateDuration returns the driving duration of the first route, using
// the traffic-aware figure when the API provides one.
func (s *RouteService) EstimateDuration(ctx context.Context, from, to types.Point) (time.Duration, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, ErrNoRoute
	}
	var total time.Duration
	for _, leg := range routes[0].Legs {
		if leg.DurationInTraffic > 0 {
			total += leg.DurationInTraffic
			continue
		}
		total += leg.Duration
	}
	return total, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
