// README: Rider coin and rating aggregate; average rating is always derived.
package ledger

import (
	"strconv"

	"dispatch/internal/docstore"
	"dispatch/internal/types"
)

// DefaultRating is shown for riders nobody has rated yet.
const DefaultRating = 5.0

type Rider struct {
	UID         types.ID
	Name        string
	Role        string
	Coins       int64
	TotalStars  int64
	RatingCount int64
}

func (r *Rider) AverageRating() float64 {
	return AverageRating(r.TotalStars, r.RatingCount)
}

// AverageRating is totalStars/ratingCount, or DefaultRating when there are no ratings.
func AverageRating(totalStars, ratingCount int64) float64 {
	if ratingCount <= 0 {
		return DefaultRating
	}
	return float64(totalStars) / float64(ratingCount)
}

// FormatRating renders a rating with one decimal place.
func FormatRating(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 1, 64)
}

func decodeRider(doc docstore.Doc) *Rider {
	f := doc.Fields
	return &Rider{
		UID:         types.ID(doc.ID),
		Name:        f.Str("name"),
		Role:        f.Str("role"),
		Coins:       f.Int64("coins"),
		TotalStars:  f.Int64("totalStars"),
		RatingCount: f.Int64("ratingCount"),
	}
}

// RiderFromSnapshot decodes a single-document snapshot of riders/{uid}.
func RiderFromSnapshot(snap docstore.Snapshot) (*Rider, bool) {
	if len(snap.Docs) == 0 {
		return nil, false
	}
	return decodeRider(snap.Docs[0]), true
}
