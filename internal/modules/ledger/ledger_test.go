package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/docstore"
	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

func TestAverageRating(t *testing.T) {
	cases := []struct {
		total, count int64
		want         float64
		display      string
	}{
		{0, 0, 5.0, "5.0"},
		{9, 2, 4.5, "4.5"},
		{14, 3, 14.0 / 3.0, "4.7"},
		{5, 1, 5.0, "5.0"},
		{1, 1, 1.0, "1.0"},
	}
	for _, tc := range cases {
		got := AverageRating(tc.total, tc.count)
		assert.Equal(t, tc.want, got, "AverageRating(%d, %d)", tc.total, tc.count)
		assert.Equal(t, tc.display, FormatRating(got))
	}
}

func TestAdjustCoinsAndRate(t *testing.T) {
	ctx := context.Background()
	svc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "r1", 3000)

	require.NoError(t, svc.AdjustCoins(ctx, "r1", -500))
	require.NoError(t, svc.AdjustCoins(ctx, "r1", 200))
	require.NoError(t, svc.Rate(ctx, "r1", 4))
	require.NoError(t, svc.Rate(ctx, "r1", 5))
	assert.ErrorIs(t, svc.Rate(ctx, "r1", 6), ErrInvalidStars)
	assert.ErrorIs(t, svc.Rate(ctx, "r1", 0), ErrInvalidStars)
	assert.ErrorIs(t, svc.AdjustCoins(ctx, "ghost", 1), ErrRiderNotFound)

	r, err := svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2700), r.Coins)
	assert.Equal(t, int64(9), r.TotalStars)
	assert.Equal(t, int64(2), r.RatingCount)
	assert.Equal(t, "4.5", FormatRating(r.AverageRating()))

	ok, err := svc.HasBalance(ctx, "r1", 2700)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasBalance(ctx, "r1", 2701)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	svc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "r1", 0)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.AdjustCoins(ctx, "r1", 10)
			_ = svc.Rate(ctx, "r1", 5)
		}()
	}
	wg.Wait()

	r, err := svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), r.Coins)
	assert.Equal(t, int64(40), r.RatingCount)
	assert.Equal(t, 5.0, r.AverageRating())
}

func TestSettleOrderExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "r1", 5000)
	require.NoError(t, mem.Set(ctx, docstore.CollOrders, "o1", docstore.Fields{
		"status": "completed", "riderId": "r1", "deliveryFee": 1500, "coinDeducted": false,
	}, false))

	first, err := svc.SettleOrder(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, first)
	second, err := svc.SettleOrder(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, second, "second settlement must be a no-op")

	r, _ := svc.Get(ctx, "r1")
	assert.Equal(t, int64(3500), r.Coins)
	doc, _ := mem.Get(ctx, docstore.CollOrders, "o1")
	assert.True(t, doc.Fields.Bool("coinDeducted"))
}

func TestSettleOrderConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	svc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "r1", 5000)
	require.NoError(t, mem.Set(ctx, docstore.CollOrders, "o1", docstore.Fields{
		"status": "completed", "riderId": "r1", "deliveryFee": 1500, "coinDeducted": false,
	}, false))

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.SettleOrder(ctx, "o1")
			if err == nil && ok {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	r, _ := svc.Get(ctx, "r1")
	assert.Equal(t, int64(3500), r.Coins)
}

func TestSettleOrderSkipsUnfinished(t *testing.T) {
	ctx := context.Background()
	svc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "r1", 5000)
	require.NoError(t, mem.Set(ctx, docstore.CollOrders, "o1", docstore.Fields{
		"status": "arrived", "riderId": "r1", "deliveryFee": 1500,
	}, false))

	ok, err := svc.SettleOrder(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = svc.SettleOrder(ctx, "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestRateOrderOnce(t *testing.T) {
	ctx := context.Background()
	svc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "r1", 0)
	require.NoError(t, mem.Set(ctx, docstore.CollOrders, "o1", docstore.Fields{
		"status": "completed", "riderId": "r1", "customerId": "c1",
	}, false))
	require.NoError(t, mem.Set(ctx, docstore.CollOrders, "o2", docstore.Fields{
		"status": "on_the_way", "riderId": "r1", "customerId": "c1",
	}, false))

	assert.ErrorIs(t, svc.RateOrder(ctx, "o1", "c2", 4), order.ErrForbidden)
	require.NoError(t, svc.RateOrder(ctx, "o1", "c1", 4))
	assert.ErrorIs(t, svc.RateOrder(ctx, "o1", "c1", 5), ErrAlreadyRated)
	assert.ErrorIs(t, svc.RateOrder(ctx, "o2", "c1", 5), ErrNotRateable)

	r, _ := svc.Get(ctx, "r1")
	assert.Equal(t, int64(4), r.TotalStars)
	assert.Equal(t, int64(1), r.RatingCount)
}

// Order O (fee 1500) accepted now by R1, advanced to completed; R1 pays 1500 once even
// though both the completion hook and the watcher try to settle it.
func TestEndToEndNowPathSettlesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledgerSvc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "R1", 10000)

	orders := order.NewService(order.NewStore(mem, docstore.Transactional), order.Options{
		Settler: ledgerSvc,
		Balance: ledgerSvc,
	})

	watchDone := make(chan error, 1)
	go func() { watchDone <- ledgerSvc.WatchUnsettled(ctx, "R1") }()

	id, err := orders.Create(ctx, order.CreateCommand{
		CustomerID:  "C1",
		Item:        "cake",
		DeliveryFee: 1500,
		Pickup:      order.Place{Lat: 16.78, Lng: 96.15},
		Dropoff:     order.Place{Lat: 16.82, Lng: 96.13},
	})
	require.NoError(t, err)
	require.NoError(t, orders.Accept(ctx, order.AcceptCommand{OrderID: id, RiderID: "R1", RiderName: "R One", Timing: order.ScheduleNow}))

	o, err := orders.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAccepted, o.Status)
	assert.True(t, o.AssignedTo("R1"))

	for _, st := range []order.Status{order.StatusOnTheWay, order.StatusArrived, order.StatusCompleted} {
		require.NoError(t, orders.ChangeStatus(ctx, order.ChangeStatusCommand{OrderID: id, RiderID: "R1", Status: st}))
	}

	// The completion hook already settled; a second explicit call must not deduct again.
	again, err := ledgerSvc.SettleOrder(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)

	o, err = orders.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)
	assert.True(t, o.CoinDeducted)

	require.Never(t, func() bool {
		r, _ := ledgerSvc.Get(ctx, "R1")
		return r.Coins != 8500
	}, 100*time.Millisecond, 10*time.Millisecond)

	cancel()
	select {
	case <-watchDone:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

// The watcher settles completions written by other clients.
func TestWatchUnsettledSettlesExternalCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, mem := newLedger(t, docstore.Transactional)
	seedRider(t, mem, "r1", 2000)

	go func() { _ = svc.WatchUnsettled(ctx, "r1") }()

	require.NoError(t, mem.Set(ctx, docstore.CollOrders, "o1", docstore.Fields{
		"status": "completed", "riderId": "r1", "deliveryFee": 700, "coinDeducted": false,
	}, false))

	require.Eventually(t, func() bool {
		r, _ := svc.Get(ctx, "r1")
		return r.Coins == 1300
	}, time.Second, 5*time.Millisecond)
}

func newLedger(t *testing.T, mode docstore.Consistency) (*Service, *docstore.Memory) {
	t.Helper()
	mem := docstore.NewMemory()
	return NewService(mem, mode, Options{}), mem
}

func seedRider(t *testing.T, mem *docstore.Memory, uid types.ID, coins int64) {
	t.Helper()
	require.NoError(t, mem.Set(context.Background(), docstore.CollRiders, string(uid), docstore.Fields{
		"name": "rider " + string(uid), "role": "rider", "coins": coins, "totalStars": 0, "ratingCount": 0,
	}, false))
}
