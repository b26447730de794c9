// README: Order aggregate, status/schedule enums and the lifecycle transition table.
package order

import (
	"fmt"
	"time"

	"dispatch/internal/types"
)

type Status string

const (
	StatusNone                Status = "none"
	StatusPending             Status = "pending"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusAccepted            Status = "accepted"
	StatusOnTheWay            Status = "on_the_way"
	StatusArrived             Status = "arrived"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusRiderRejected       Status = "rider_rejected"
)

// Statuses lists every status a stored order may carry.
var Statuses = []Status{
	StatusPending, StatusPendingConfirmation, StatusAccepted, StatusOnTheWay,
	StatusArrived, StatusCompleted, StatusCancelled, StatusRiderRejected,
}

func (s Status) IsValid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ActiveStatuses count toward a rider's concurrent load.
var ActiveStatuses = []Status{StatusAccepted, StatusOnTheWay, StatusArrived}

func (s Status) IsActive() bool {
	return s == StatusAccepted || s == StatusOnTheWay || s == StatusArrived
}

// IsClosed reports statuses a rider can only dismiss.
func (s Status) IsClosed() bool {
	return s == StatusCancelled || s == StatusRiderRejected
}

type Schedule string

const (
	ScheduleNow      Schedule = "now"
	ScheduleTomorrow Schedule = "tomorrow"
)

func (s Schedule) IsValid() bool {
	return s == ScheduleNow || s == ScheduleTomorrow
}

// Place is a pickup or dropoff location.
type Place struct {
	Address  string
	Township string
	Lat      float64
	Lng      float64
}

func (p Place) Point() types.Point {
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

type Order struct {
	ID             types.ID
	Status         Status
	PickupSchedule Schedule

	CustomerID    types.ID
	CustomerName  string
	CustomerPhone string

	RiderID             *types.ID
	RiderName           string
	TempRiderID         *types.ID
	TempRiderName       string
	LastRejectedRiderID *types.ID

	RiderDismissed         bool
	RiderDismissedTomorrow bool

	Item        string
	Weight      float64
	ItemValue   int64
	DeliveryFee int64
	Pickup      Place
	Dropoff     Place

	CoinDeducted bool

	CreatedAt   *time.Time
	AcceptedAt  *time.Time
	CompletedAt *time.Time
	LastUpdated *time.Time
}

func (o *Order) IsTomorrow() bool { return o.PickupSchedule == ScheduleTomorrow }

// AssignedTo reports whether rider holds riderId.
func (o *Order) AssignedTo(rider types.ID) bool {
	return o.RiderID != nil && *o.RiderID == rider
}

// ClaimedBy reports whether rider holds the provisional tomorrow claim.
func (o *Order) ClaimedBy(rider types.ID) bool {
	return o.TempRiderID != nil && *o.TempRiderID == rider
}

func (o *Order) RejectedBy(rider types.ID) bool {
	return o.LastRejectedRiderID != nil && *o.LastRejectedRiderID == rider
}

// Action names a lifecycle operation.
type Action string

const (
	ActionSubmit         Action = "submit"
	ActionAcceptNow      Action = "accept_now"
	ActionAcceptTomorrow Action = "accept_tomorrow"
	ActionConfirmClaim   Action = "confirm_claim"
	ActionDeclineClaim   Action = "decline_claim"
	ActionRiderReject    Action = "rider_reject"
	ActionAdvance        Action = "advance"
	ActionStartToday     Action = "start_today"
	ActionWithdraw       Action = "withdraw"
	ActionCancel         Action = "cancel"
	ActionReopen         Action = "reopen"
)

// AllowedTransitions is the order state flow as code: from status, action, to status.
var AllowedTransitions = map[Status]map[Action]Status{
	StatusNone: {
		ActionSubmit: StatusPending,
	},
	StatusPending: {
		ActionAcceptNow:      StatusAccepted,
		ActionAcceptTomorrow: StatusPendingConfirmation,
		ActionCancel:         StatusCancelled,
	},
	StatusPendingConfirmation: {
		ActionConfirmClaim: StatusAccepted,
		ActionDeclineClaim: StatusPending,
		ActionCancel:       StatusCancelled,
	},
	StatusAccepted: {
		ActionRiderReject: StatusPending,
		ActionAdvance:     StatusOnTheWay,
		ActionStartToday:  StatusAccepted,
		ActionWithdraw:    StatusRiderRejected,
		ActionCancel:      StatusCancelled,
	},
	StatusOnTheWay: {
		ActionAdvance: StatusArrived,
	},
	StatusArrived: {
		ActionAdvance: StatusCompleted,
	},
	StatusCancelled: {
		ActionReopen: StatusPending,
	},
	StatusRiderRejected: {
		ActionReopen: StatusPending,
	},
}

// scheduleGuard pins actions that only apply on one side of the now/tomorrow axis.
var scheduleGuard = map[Action]Schedule{
	ActionStartToday:  ScheduleTomorrow,
	ActionWithdraw:    ScheduleTomorrow,
	ActionAdvance:     ScheduleNow,
	ActionRiderReject: ScheduleNow,
}

// CanTransition reports whether any action moves an order from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatus resolves the target status for action, or fails with ErrInvalidTransition.
func NextStatus(from Status, schedule Schedule, action Action) (Status, error) {
	to, ok := AllowedTransitions[from][action]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
	}
	if want, guarded := scheduleGuard[action]; guarded && schedule != want {
		return "", fmt.Errorf("%w: %s requires a %s order", ErrInvalidTransition, action, want)
	}
	return to, nil
}

// Event is one journal row describing an applied transition.
type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	Action     Action
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

const (
	ActorCustomer = "customer"
	ActorRider    = "rider"
	ActorSystem   = "system"
)
