package maps

import (
	"context"
	"errors"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"dispatch/internal/types"
)

type fakeDirections struct {
	req    *maps.DirectionsRequest
	routes []maps.Route
	err    error
}

func (f *fakeDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	f.req = r
	return f.routes, nil, f.err
}

func TestEstimate(t *testing.T) {
	fake := &fakeDirections{routes: []maps.Route{{
		Legs: []*maps.Leg{{
			Duration: 12 * time.Minute,
			Distance: maps.Distance{Meters: 5400, HumanReadable: "5.4 km"},
		}},
	}}}
	svc := &RouteService{client: fake, language: "en", region: "MM"}

	est, err := svc.Estimate(context.Background(), types.Point{Lat: 16.7746, Lng: 96.1588}, types.Point{Lat: 16.8235, Lng: 96.129})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.Duration != 12*time.Minute || est.DistanceMeters != 5400 || est.DistanceText != "5.4 km" {
		t.Fatalf("unexpected estimate %+v", est)
	}
	if fake.req.Origin != "16.774600,96.158800" || fake.req.Mode != maps.TravelModeDriving {
		t.Fatalf("unexpected request %+v", fake.req)
	}
}

func TestEstimateErrors(t *testing.T) {
	svc := &RouteService{client: &fakeDirections{}}
	if _, err := svc.Estimate(context.Background(), types.Point{Lat: 1, Lng: 1}, types.Point{Lat: 2, Lng: 2}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}

	boom := errors.New("quota")
	svc = &RouteService{client: &fakeDirections{err: boom}}
	if _, err := svc.Estimate(context.Background(), types.Point{Lat: 1, Lng: 1}, types.Point{Lat: 2, Lng: 2}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}
