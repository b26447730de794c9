// README: Rider position document and the client-side route trail.
package location

import (
	"time"

	"dispatch/internal/docstore"
	"dispatch/internal/types"
)

// Position is the last reported location of an online rider (active_riders/{uid}).
type Position struct {
	RiderID  types.ID
	Name     string
	Point    types.Point
	LastSeen *time.Time
}

// Nearby is a rider found around a point, closest first.
type Nearby struct {
	Position
	DistanceKm float64
}

func decodePosition(doc docstore.Doc) Position {
	f := doc.Fields
	return Position{
		RiderID:  types.ID(doc.ID),
		Name:     f.Str("name"),
		Point:    types.Point{Lat: f.Float64("lat"), Lng: f.Float64("lng")},
		LastSeen: f.Time("lastSeen"),
	}
}

// DecodeSnapshot returns the position held by a single-document snapshot, or false when
// the rider is offline.
func DecodeSnapshot(snap docstore.Snapshot) (Position, bool) {
	if len(snap.Docs) == 0 {
		return Position{}, false
	}
	return decodePosition(snap.Docs[0]), true
}

// DefaultTrackLimit bounds a Track created with a non-positive limit.
const DefaultTrackLimit = 500

// Track accumulates the path a rider has driven while a customer watches. Consecutive
// duplicates are dropped and only the newest limit points are kept.
type Track struct {
	limit  int
	points []types.Point
}

func NewTrack(limit int) *Track {
	if limit <= 0 {
		limit = DefaultTrackLimit
	}
	return &Track{limit: limit}
}

// Add appends p and reports whether the trail changed.
func (t *Track) Add(p types.Point) bool {
	if p.IsZero() {
		return false
	}
	if n := len(t.points); n > 0 && t.points[n-1] == p {
		return false
	}
	t.points = append(t.points, p)
	if over := len(t.points) - t.limit; over > 0 {
		t.points = append(t.points[:0:0], t.points[over:]...)
	}
	return true
}

func (t *Track) Points() []types.Point {
	return append([]types.Point(nil), t.points...)
}

func (t *Track) Len() int { return len(t.points) }

// DistanceKm is the length of the trail along its points.
func (t *Track) DistanceKm() float64 {
	total := 0.0
	for i := 1; i < len(t.points); i++ {
		total += DistanceKm(t.points[i-1], t.points[i])
	}
	return total
}
