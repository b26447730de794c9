// README: Redis side of the location feed: GEO index of online riders and the per-rider update window.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/types"
)

const (
	riderGeoKey     = "dispatch:riders:geo"
	throttleKeyFmt  = "dispatch:location:throttle:%s"
	defaultWindow   = 2 * time.Second
	localSweepEvery = 1024
)

// cmdable is the subset of the redis client this package needs.
type cmdable interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	GeoSearch(ctx context.Context, key string, q *redis.GeoSearchQuery) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// GeoIndex mirrors online riders into a Redis GEO set.
type GeoIndex struct {
	redis cmdable
}

func NewGeoIndex(rdb cmdable) *GeoIndex {
	return &GeoIndex{redis: rdb}
}

func (g *GeoIndex) Add(ctx context.Context, id types.ID, p types.Point) error {
	return g.redis.GeoAdd(ctx, riderGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (g *GeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, riderGeoKey, string(id)).Err()
}

// Nearby returns rider ids within radiusKm of p, closest first.
func (g *GeoIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := g.redis.GeoSearch(ctx, riderGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// Throttle decides whether a rider may write another position in the current window.
type Throttle interface {
	Allow(ctx context.Context, rider types.ID) (bool, error)
}

// RedisThrottle is a fixed window shared by every API instance: INCR the rider's key and
// set its expiry on the first hit of the window.
type RedisThrottle struct {
	redis  cmdable
	window time.Duration
}

func NewRedisThrottle(rdb cmdable, window time.Duration) *RedisThrottle {
	if window <= 0 {
		window = defaultWindow
	}
	return &RedisThrottle{redis: rdb, window: window}
}

func (t *RedisThrottle) Allow(ctx context.Context, rider types.ID) (bool, error) {
	key := fmt.Sprintf(throttleKeyFmt, rider)
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= 1, nil
}

// LocalThrottle is the in-process fallback when Redis is not configured.
type LocalThrottle struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	last  map[types.ID]time.Time
	calls int
}

func NewLocalThrottle(window time.Duration, now func() time.Time) *LocalThrottle {
	if window <= 0 {
		window = defaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &LocalThrottle{window: window, now: now, last: make(map[types.ID]time.Time)}
}

func (t *LocalThrottle) Allow(_ context.Context, rider types.ID) (bool, error) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls%localSweepEvery == 0 {
		for id, at := range t.last {
			if now.Sub(at) >= t.window {
				delete(t.last, id)
			}
		}
	}
	if at, ok := t.last[rider]; ok && now.Sub(at) < t.window {
		return false, nil
	}
	t.last[rider] = now
	return true, nil
}
