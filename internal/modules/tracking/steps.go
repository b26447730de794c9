// README: Step progression shown to a customer tracking an order.
package tracking

import "dispatch/internal/modules/order"

// Milestones are the ordered steps of the progress bar.
var Milestones = []order.Status{
	order.StatusPending,
	order.StatusAccepted,
	order.StatusOnTheWay,
	order.StatusArrived,
}

type Step struct {
	Status  order.Status
	Reached bool
}

// Steps marks every milestone at or before status as reached; completed reaches all.
// Statuses off the main line (claims, cancellations) reach none.
func Steps(status order.Status) []Step {
	at := milestoneIndex(status)
	out := make([]Step, len(Milestones))
	for i, m := range Milestones {
		out[i] = Step{
			Status:  m,
			Reached: status == order.StatusCompleted || (at >= 0 && at >= i),
		}
	}
	return out
}

func milestoneIndex(status order.Status) int {
	for i, m := range Milestones {
		if m == status {
			return i
		}
	}
	return -1
}
