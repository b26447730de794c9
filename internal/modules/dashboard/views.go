// README: Pure projections from order snapshots to the four rider dashboard views.
package dashboard

import (
	"sort"
	"time"

	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

type ViewName string

const (
	ViewPending   ViewName = "pending_pool"
	ViewActive    ViewName = "active"
	ViewScheduled ViewName = "scheduled"
	ViewHistory   ViewName = "history"
	ViewWallet    ViewName = "wallet"
)

// ActiveView holds the rider's own immediate orders. Closed orders are waiting for the
// rider to dismiss them.
type ActiveView struct {
	Live   []*order.Order
	Closed []*order.Order
}

// ScheduledView holds tomorrow orders the rider claimed or was confirmed for.
type ScheduledView struct {
	Awaiting  []*order.Order
	Confirmed []*order.Order
}

type HistoryView struct {
	Orders        []*order.Order
	TotalEarnings int64
}

// PendingPool lists open immediate orders the rider may still accept.
func PendingPool(orders []*order.Order, self types.ID) []*order.Order {
	out := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status != order.StatusPending || o.IsTomorrow() {
			continue
		}
		if o.RejectedBy(self) || o.ClaimedBy(self) {
			continue
		}
		out = append(out, o)
	}
	sortNewestFirst(out)
	return out
}

// Active projects the rider's assigned orders, skipping completed, dismissed and
// tomorrow ones.
func Active(assigned []*order.Order, self types.ID) ActiveView {
	var v ActiveView
	for _, o := range assigned {
		if !o.AssignedTo(self) || o.Status == order.StatusCompleted || o.RiderDismissed || o.IsTomorrow() {
			continue
		}
		if o.Status.IsClosed() {
			v.Closed = append(v.Closed, o)
		} else {
			v.Live = append(v.Live, o)
		}
	}
	sortNewestFirst(v.Live)
	sortNewestFirst(v.Closed)
	return v
}

// Scheduled merges the claimed and assigned result sets into the tomorrow view.
func Scheduled(claimed, assigned []*order.Order, self types.ID) ScheduledView {
	var v ScheduledView
	seen := make(map[types.ID]bool, len(claimed)+len(assigned))
	for _, set := range [][]*order.Order{claimed, assigned} {
		for _, o := range set {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			if !o.IsTomorrow() || o.RiderDismissedTomorrow {
				continue
			}
			if !o.ClaimedBy(self) && !o.AssignedTo(self) {
				continue
			}
			switch o.Status {
			case order.StatusPendingConfirmation, order.StatusPending, order.StatusRiderRejected, order.StatusCancelled:
				v.Awaiting = append(v.Awaiting, o)
			case order.StatusAccepted:
				v.Confirmed = append(v.Confirmed, o)
			}
		}
	}
	sortNewestFirst(v.Awaiting)
	sortNewestFirst(v.Confirmed)
	return v
}

func History(completed []*order.Order, self types.ID) HistoryView {
	var v HistoryView
	for _, o := range completed {
		if o.Status != order.StatusCompleted || !o.AssignedTo(self) {
			continue
		}
		v.Orders = append(v.Orders, o)
		v.TotalEarnings += o.DeliveryFee
	}
	sort.SliceStable(v.Orders, func(i, j int) bool {
		return newer(v.Orders[i].CompletedAt, v.Orders[j].CompletedAt, v.Orders[i].ID, v.Orders[j].ID)
	})
	return v
}

func sortNewestFirst(orders []*order.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return newer(orders[i].CreatedAt, orders[j].CreatedAt, orders[i].ID, orders[j].ID)
	})
}

// newer orders a before b when a is more recent; missing times sort last, ties by id.
func newer(a, b *time.Time, aID, bID types.ID) bool {
	switch {
	case a != nil && b != nil && !a.Equal(*b):
		return a.After(*b)
	case a != nil && b == nil:
		return true
	case a == nil && b != nil:
		return false
	}
	return aID < bID
}
