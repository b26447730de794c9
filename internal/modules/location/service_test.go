package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/docstore"
	"dispatch/internal/metrics"
	"dispatch/internal/types"
)

var (
	downtown = types.Point{Lat: 16.7746, Lng: 96.1588}
	pagoda   = types.Point{Lat: 16.7983, Lng: 96.1497}
	airport  = types.Point{Lat: 16.9073, Lng: 96.1332}
)

func TestUpdateWritesActiveRider(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	svc := NewService(mem, Options{Throttle: allowAll{}})

	ok, err := svc.Update(ctx, "r1", " Aung ", downtown.Lat, downtown.Lng)
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	pos, err := svc.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pos.Name != "Aung" || pos.Point != downtown {
		t.Fatalf("unexpected position %+v", pos)
	}
	if pos.LastSeen == nil {
		t.Fatalf("lastSeen not set")
	}

	if _, err := svc.Update(ctx, "r1", "Aung", 91, 0); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, err := svc.Update(ctx, "", "x", 1, 1); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition for empty rider, got %v", err)
	}
}

func TestUpdateThrottledPerRider(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := prometheus.NewRegistry()
	m := metrics.NewDispatch(reg)
	svc := NewService(docstore.NewMemory(), Options{
		Throttle: NewLocalThrottle(2*time.Second, clock),
		Metrics:  m,
	})

	steps := []struct {
		rider   types.ID
		advance time.Duration
		want    bool
	}{
		{"r1", 0, true},
		{"r1", 500 * time.Millisecond, false},
		{"r2", 0, true},
		{"r1", 1600 * time.Millisecond, true},
		{"r1", time.Second, false},
	}
	for i, st := range steps {
		now = now.Add(st.advance)
		ok, err := svc.Update(ctx, st.rider, "rider", downtown.Lat, downtown.Lng)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ok != st.want {
			t.Fatalf("step %d: accepted=%v, want %v", i, ok, st.want)
		}
	}
	if got := locationUpdates(t, reg, "throttled"); got != 2 {
		t.Errorf("throttled count = %v, want 2", got)
	}
}

func TestThrottleOutageStillWrites(t *testing.T) {
	svc := NewService(docstore.NewMemory(), Options{Throttle: failingThrottle{}})
	ok, err := svc.Update(context.Background(), "r1", "n", downtown.Lat, downtown.Lng)
	if err != nil || !ok {
		t.Fatalf("update with failing throttle: ok=%v err=%v", ok, err)
	}
}

func TestNearbyRidersScanFallback(t *testing.T) {
	ctx := context.Background()
	svc := NewService(docstore.NewMemory(), Options{Throttle: allowAll{}})
	mustUpdate(t, svc, "far", airport)
	mustUpdate(t, svc, "near", downtown)
	mustUpdate(t, svc, "mid", pagoda)

	got, err := svc.NearbyRiders(ctx, downtown, 5)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 || got[0].RiderID != "near" || got[1].RiderID != "mid" {
		t.Fatalf("unexpected nearby riders: %+v", got)
	}
	if got[0].DistanceKm != 0 {
		t.Errorf("self distance = %f", got[0].DistanceKm)
	}

	if _, err := svc.NearbyRiders(ctx, downtown, 0); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("expected ErrInvalidRadius, got %v", err)
	}
}

func TestNearbyRidersUsesGeoIndex(t *testing.T) {
	ctx := context.Background()
	mock := newMockRedis()
	svc := NewService(docstore.NewMemory(), Options{Geo: NewGeoIndex(mock), Throttle: allowAll{}})
	mustUpdate(t, svc, "near", downtown)
	mustUpdate(t, svc, "mid", pagoda)
	mustUpdate(t, svc, "far", airport)

	if len(mock.geo) != 3 {
		t.Fatalf("geo index size = %d, want 3", len(mock.geo))
	}

	// A rider still indexed but already offline in the store is skipped and evicted.
	mock.geo["ghost"] = downtown

	got, err := svc.NearbyRiders(ctx, downtown, 5)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 || got[0].RiderID != "near" || got[1].RiderID != "mid" {
		t.Fatalf("unexpected nearby riders: %+v", got)
	}
	if _, ok := mock.geo["ghost"]; ok {
		t.Errorf("stale member not removed from geo index")
	}

	if err := svc.Remove(ctx, "near"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := mock.geo["near"]; ok {
		t.Errorf("removed rider still indexed")
	}
	if _, err := svc.Get(ctx, "near"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected offline rider to be gone, got %v", err)
	}
	if err := svc.Remove(ctx, "never-online"); err != nil {
		t.Errorf("remove of offline rider: %v", err)
	}
}

func TestRedisThrottleFixedWindow(t *testing.T) {
	ctx := context.Background()
	mock := newMockRedis()
	th := NewRedisThrottle(mock, time.Second)

	for i, want := range []bool{true, false, false} {
		ok, err := th.Allow(ctx, "r1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if ok != want {
			t.Fatalf("allow %d = %v, want %v", i, ok, want)
		}
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire calls = %d, want 1", len(mock.expireCalls))
	}
	if ok, _ := th.Allow(ctx, "r2"); !ok {
		t.Fatalf("other rider must not share the window")
	}
}

func TestSubscribeSeesUpdatesAndOffline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewService(docstore.NewMemory(), Options{Throttle: allowAll{}})
	mustUpdate(t, svc, "r1", downtown)

	sub := svc.Subscribe(ctx, "r1")
	defer sub.Stop()

	snap, err := sub.Next()
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	pos, online := DecodeSnapshot(snap)
	if !online || pos.Point != downtown {
		t.Fatalf("first snapshot = %+v online=%v", pos, online)
	}

	mustUpdate(t, svc, "r1", pagoda)
	snap, err = sub.Next()
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if pos, _ := DecodeSnapshot(snap); pos.Point != pagoda {
		t.Fatalf("second snapshot = %+v", pos)
	}

	if err := svc.Remove(ctx, "r1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	snap, err = sub.Next()
	if err != nil {
		t.Fatalf("third snapshot: %v", err)
	}
	if _, online := DecodeSnapshot(snap); online {
		t.Fatalf("rider should be offline")
	}
}

func TestRedisGeoIndexIntegration(t *testing.T) {
	redisAddr := os.Getenv("DISPATCH_TEST_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("DISPATCH_TEST_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	geo := NewGeoIndex(rdb)
	svc := NewService(docstore.NewMemory(), Options{
		Geo:      geo,
		Throttle: NewRedisThrottle(rdb, time.Second),
	})

	uid := types.ID(fmt.Sprintf("rider_test_%d", time.Now().UnixNano()))
	defer geo.Remove(ctx, uid)

	ok, err := svc.Update(ctx, uid, "integration", downtown.Lat, downtown.Lng)
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	pos, err := rdb.GeoPos(ctx, riderGeoKey, string(uid)).Result()
	if err != nil {
		t.Fatalf("failed to query redis geo: %v", err)
	}
	if len(pos) == 0 || pos[0] == nil {
		t.Fatalf("expected position in redis, got none")
	}

	ok, err = svc.Update(ctx, uid, "integration", pagoda.Lat, pagoda.Lng)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if ok {
		t.Errorf("second update inside the window should be throttled")
	}

	near, err := svc.NearbyRiders(ctx, downtown, 1)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	found := false
	for _, n := range near {
		if n.RiderID == uid {
			found = true
		}
	}
	if !found {
		t.Errorf("rider %s not found nearby", uid)
	}
}

func mustUpdate(t *testing.T, svc *Service, rider types.ID, p types.Point) {
	t.Helper()
	if _, err := svc.Update(context.Background(), rider, "rider "+string(rider), p.Lat, p.Lng); err != nil {
		t.Fatalf("update %s: %v", rider, err)
	}
}

func locationUpdates(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "dispatch_location_updates_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type allowAll struct{}

func (allowAll) Allow(context.Context, types.ID) (bool, error) { return true, nil }

type failingThrottle struct{}

func (failingThrottle) Allow(context.Context, types.ID) (bool, error) {
	return false, errors.New("redis down")
}

type expireCall struct {
	key string
	ttl time.Duration
}

type mockRedis struct {
	mu          sync.Mutex
	geo         map[string]types.Point
	incr        map[string]int64
	expireCalls []expireCall
}

func newMockRedis() *mockRedis {
	return &mockRedis{geo: make(map[string]types.Point), incr: make(map[string]int64)}
}

func (m *mockRedis) GeoAdd(ctx context.Context, key string, locs ...*redis.GeoLocation) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range locs {
		m.geo[l.Name] = types.Point{Lat: l.Latitude, Lng: l.Longitude}
	}
	return redis.NewIntResult(int64(len(locs)), nil)
}

func (m *mockRedis) GeoSearch(ctx context.Context, key string, q *redis.GeoSearchQuery) *redis.StringSliceCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	center := types.Point{Lat: q.Latitude, Lng: q.Longitude}
	var names []string
	for name, p := range m.geo {
		if DistanceKm(center, p) <= q.Radius {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return DistanceKm(center, m.geo[names[i]]) < DistanceKm(center, m.geo[names[j]])
	})
	return redis.NewStringSliceResult(names, nil)
}

func (m *mockRedis) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range members {
		delete(m.geo, fmt.Sprint(mem))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (m *mockRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}
