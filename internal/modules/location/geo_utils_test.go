package location

import (
	"math"
	"testing"

	"dispatch/internal/types"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 16.7800, lng1: 96.1500,
			lat2: 16.7800, lng2: 96.1500,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name: "Sule Pagoda to Shwedagon (~3km)",
			lat1: 16.7746, lng1: 96.1588,
			lat2: 16.7983, lng2: 96.1497,
			wantKm:    2.8,
			tolerance: 0.5,
		},
		{
			name: "Yangon to Mandalay (~570km)",
			lat1: 16.8409, lng1: 96.1735,
			lat2: 21.9588, lng2: 96.0891,
			wantKm:    569,
			tolerance: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("haversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := haversineKm(16.0, 96.0, 17.0, 97.0)
	d2 := haversineKm(17.0, 97.0, 16.0, 96.0)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestValidCoordinate(t *testing.T) {
	tests := []struct {
		lat, lng float64
		want     bool
	}{
		{16.78, 96.15, true},
		{-90, -180, true},
		{90.01, 0, false},
		{0, 180.5, false},
		{math.NaN(), 0, false},
	}
	for _, tt := range tests {
		if got := validCoordinate(tt.lat, tt.lng); got != tt.want {
			t.Errorf("validCoordinate(%v, %v) = %v, want %v", tt.lat, tt.lng, got, tt.want)
		}
	}
}

func TestSortByDistance_Riders(t *testing.T) {
	riders := []Nearby{
		{Position: Position{RiderID: types.ID("c")}, DistanceKm: 5.0},
		{Position: Position{RiderID: types.ID("a")}, DistanceKm: 1.0},
		{Position: Position{RiderID: types.ID("b")}, DistanceKm: 3.0},
	}

	sortByDistance(riders, func(n Nearby) float64 { return n.DistanceKm })

	if riders[0].RiderID != "a" || riders[1].RiderID != "b" || riders[2].RiderID != "c" {
		t.Errorf("unexpected sort order: %v", riders)
	}
}

func TestSortByDistance_Empty(t *testing.T) {
	var riders []Nearby
	sortByDistance(riders, func(n Nearby) float64 { return n.DistanceKm })
}

func TestTrackDropsDuplicatesAndBounds(t *testing.T) {
	tr := NewTrack(3)
	pts := []types.Point{
		{Lat: 16.1, Lng: 96.1},
		{Lat: 16.1, Lng: 96.1},
		{Lat: 16.2, Lng: 96.1},
		{},
		{Lat: 16.3, Lng: 96.1},
		{Lat: 16.4, Lng: 96.1},
	}
	added := 0
	for _, p := range pts {
		if tr.Add(p) {
			added++
		}
	}
	if added != 4 {
		t.Fatalf("added = %d, want 4", added)
	}
	got := tr.Points()
	if len(got) != 3 || got[0].Lat != 16.2 || got[2].Lat != 16.4 {
		t.Fatalf("points = %v", got)
	}
	if d := tr.DistanceKm(); d < 20 || d > 25 {
		t.Errorf("trail length = %f km", d)
	}
}
