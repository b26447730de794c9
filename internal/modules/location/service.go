// README: Location service: rider geolocation writes, offline removal, nearby lookup and live feeds.
package location

import (
	"context"
	"errors"
	"strings"

	"dispatch/internal/docstore"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/types"
)

var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidRadius   = errors.New("radius must be positive")
)

// MaxNearbyRadiusKm caps NearbyRiders queries.
const MaxNearbyRadiusKm = 50.0

type Options struct {
	// Geo is optional; without it nearby lookups scan active_riders.
	Geo      *GeoIndex
	Throttle Throttle
	Metrics  *metrics.Dispatch
	Logger   *logger.Logger
}

type Service struct {
	docs     docstore.Store
	geo      *GeoIndex
	throttle Throttle
	metrics  *metrics.Dispatch
	log      *logger.Logger
}

func NewService(docs docstore.Store, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	throttle := opts.Throttle
	if throttle == nil {
		throttle = NewLocalThrottle(defaultWindow, nil)
	}
	return &Service{docs: docs, geo: opts.Geo, throttle: throttle, metrics: opts.Metrics, log: log}
}

// Update overwrites active_riders/{rider} with the given position. It reports false when
// the write was dropped by the per-rider throttle.
func (s *Service) Update(ctx context.Context, rider types.ID, name string, lat, lng float64) (bool, error) {
	if rider == "" || !validCoordinate(lat, lng) {
		s.metrics.LocationUpdate("invalid")
		return false, ErrInvalidPosition
	}
	ctx = s.log.WithRiderID(ctx, rider.String())

	ok, err := s.throttle.Allow(ctx, rider)
	if err != nil {
		// A throttle outage must not take the feed down with it.
		s.log.Warn(ctx, "location throttle unavailable", err)
		ok = true
	}
	if !ok {
		s.metrics.LocationUpdate("throttled")
		return false, nil
	}

	err = s.docs.Set(ctx, docstore.CollActiveRiders, string(rider), docstore.Fields{
		"name":     strings.TrimSpace(name),
		"lat":      lat,
		"lng":      lng,
		"lastSeen": docstore.ServerTimestamp,
	}, false)
	if err != nil {
		s.metrics.LocationUpdate("error")
		s.log.Error(ctx, "write rider location", err)
		return false, err
	}
	if s.geo != nil {
		if err := s.geo.Add(ctx, rider, types.Point{Lat: lat, Lng: lng}); err != nil {
			s.log.Warn(ctx, "geo index add", err)
		}
	}
	s.metrics.LocationUpdate("ok")
	return true, nil
}

// Remove takes the rider offline.
func (s *Service) Remove(ctx context.Context, rider types.ID) error {
	ctx = s.log.WithRiderID(ctx, rider.String())
	if s.geo != nil {
		if err := s.geo.Remove(ctx, rider); err != nil {
			s.log.Warn(ctx, "geo index remove", err)
		}
	}
	err := s.docs.Delete(ctx, docstore.CollActiveRiders, string(rider))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) Get(ctx context.Context, rider types.ID) (Position, error) {
	doc, err := s.docs.Get(ctx, docstore.CollActiveRiders, string(rider))
	if err != nil {
		return Position{}, err
	}
	return decodePosition(doc), nil
}

// NearbyRiders lists online riders within radiusKm of p, closest first.
func (s *Service) NearbyRiders(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error) {
	if !validCoordinate(p.Lat, p.Lng) {
		return nil, ErrInvalidPosition
	}
	if radiusKm <= 0 {
		return nil, ErrInvalidRadius
	}
	if radiusKm > MaxNearbyRadiusKm {
		radiusKm = MaxNearbyRadiusKm
	}

	var positions []Position
	if s.geo != nil {
		ids, err := s.geo.Nearby(ctx, p, radiusKm)
		if err != nil {
			s.log.Warn(ctx, "geo index search, scanning store", err)
			positions, err = s.scan(ctx)
			if err != nil {
				return nil, err
			}
		} else {
			for _, id := range ids {
				pos, err := s.Get(ctx, id)
				if errors.Is(err, docstore.ErrNotFound) {
					// Offline since the index was written.
					_ = s.geo.Remove(ctx, id)
					continue
				}
				if err != nil {
					return nil, err
				}
				positions = append(positions, pos)
			}
		}
	} else {
		var err error
		positions, err = s.scan(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Nearby, 0, len(positions))
	for _, pos := range positions {
		d := DistanceKm(p, pos.Point)
		if d > radiusKm {
			continue
		}
		out = append(out, Nearby{Position: pos, DistanceKm: d})
	}
	sortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	return out, nil
}

func (s *Service) scan(ctx context.Context) ([]Position, error) {
	docs, err := s.docs.Query(ctx, docstore.Collection(docstore.CollActiveRiders))
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(docs))
	for _, d := range docs {
		out = append(out, decodePosition(d))
	}
	return out, nil
}

// Subscribe streams active_riders/{rider}; an empty snapshot means the rider is offline.
func (s *Service) Subscribe(ctx context.Context, rider types.ID) docstore.Subscription {
	return s.docs.Subscribe(ctx, RiderQuery(rider))
}

func RiderQuery(rider types.ID) docstore.Query {
	return docstore.Collection(docstore.CollActiveRiders).Doc(string(rider))
}
