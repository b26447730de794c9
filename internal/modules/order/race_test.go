// README: Concurrency tests for order transitions (run with -race).
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"dispatch/internal/docstore"
	"dispatch/internal/types"
)

func TestConcurrentAcceptSameOrder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Options{})
	orderID := mustCreateOrder(t, svc, "c_multi_accept", 1500)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		riderID := types.ID(fmt.Sprintf("r%d", i))
		wg.Add(1)
		go func(rid types.ID) {
			defer wg.Done()
			<-start
			errs <- svc.Accept(ctx, AcceptCommand{OrderID: orderID, RiderID: rid, Timing: ScheduleNow})
		}(riderID)
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	o := assertStatus(t, svc, orderID, StatusAccepted)
	if o.RiderID == nil {
		t.Fatalf("winner not recorded")
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Options{})
	orderID := mustCreateOrder(t, svc, "c_accept_cancel", 500)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- svc.Accept(ctx, AcceptCommand{OrderID: orderID, RiderID: "r1", Timing: ScheduleNow})
	}()
	go func() {
		defer wg.Done()
		errs <- svc.Cancel(ctx, CustomerCommand{OrderID: orderID, CustomerID: "c_accept_cancel"})
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	o, err := svc.Get(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	// pending -> accepted -> cancelled is legal, so both may win.
	if success == 2 && o.Status != StatusCancelled {
		t.Fatalf("expected cancelled after accept+cancel, got %s", o.Status)
	}
	if success == 1 && o.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", o.Status)
	}
}

// Two scheduled starts racing for the last capacity slot: only one may pass the count.
func TestConcurrentStartScheduledRespectsCap(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, Options{MaxActiveOrders: 7})
	seedActive(t, mem, "r1", 6)
	for _, id := range []string{"s1", "s2", "s3"} {
		seedOrder(t, mem, id, docstore.Fields{"status": "accepted", "riderId": "r1", "pickupSchedule": "tomorrow"})
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, id := range []types.ID{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			errs <- svc.StartScheduled(ctx, RiderCommand{OrderID: id, RiderID: "r1"})
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 start, got %d", success)
	}
	n, err := svc.ActiveNowCount(ctx, "r1")
	if err != nil || n != 7 {
		t.Fatalf("active now = %d (%v), want 7", n, err)
	}
}

// Legacy mode reads and writes without isolation. Every accept that read pending
// reports success; the store keeps whichever write landed last.
func TestLegacyAcceptIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	svc := NewService(NewStore(mem, docstore.Legacy), Options{})
	orderID := mustCreateOrder(t, svc, "c_legacy", 100)

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := map[types.ID]bool{}
	for i := 0; i < attempts; i++ {
		rid := types.ID(fmt.Sprintf("r%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, RiderID: rid, Timing: ScheduleNow}); err == nil {
				mu.Lock()
				winners[rid] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(winners) == 0 {
		t.Fatalf("expected at least one accept to succeed")
	}
	o := assertStatus(t, svc, orderID, StatusAccepted)
	if o.RiderID == nil || !winners[*o.RiderID] {
		t.Fatalf("stored rider %v is not among the reported winners %v", o.RiderID, winners)
	}
}
