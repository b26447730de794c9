// README: Order service implements lifecycle transitions, guards and their best-effort side effects.
package order

import (
	"context"
	"errors"
	"time"

	"dispatch/internal/docstore"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/notify"
	"dispatch/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("order not found")
	ErrForbidden         = errors.New("not allowed for this user")
	ErrCapacityExceeded  = errors.New("rider has too many active orders")
	ErrInsufficientCoins = errors.New("insufficient coin balance")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrBadRequest        = errors.New("bad request")
)

// DefaultMaxActiveOrders caps a rider's concurrent pickupSchedule=now orders.
const DefaultMaxActiveOrders = 7

// Settler deducts the delivery fee of a completed order exactly once.
type Settler interface {
	SettleOrder(ctx context.Context, orderID types.ID) (bool, error)
}

// BalanceChecker reads a rider balance without reserving it.
type BalanceChecker interface {
	HasBalance(ctx context.Context, rider types.ID, amount int64) (bool, error)
}

type Journal interface {
	Append(ctx context.Context, e *Event) error
}

type Options struct {
	MaxActiveOrders int
	Notifier        notify.Notifier
	Journal         Journal
	Settler         Settler
	Balance         BalanceChecker
	Metrics         *metrics.Dispatch
	Logger          *logger.Logger
	Now             func() time.Time
}

type Service struct {
	store     *Store
	maxActive int
	notifier  notify.Notifier
	journal   Journal
	settler   Settler
	balance   BalanceChecker
	metrics   *metrics.Dispatch
	log       *logger.Logger
	now       func() time.Time
}

func NewService(store *Store, opts Options) *Service {
	s := &Service{
		store:     store,
		maxActive: opts.MaxActiveOrders,
		notifier:  opts.Notifier,
		journal:   opts.Journal,
		settler:   opts.Settler,
		balance:   opts.Balance,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if s.maxActive <= 0 {
		s.maxActive = DefaultMaxActiveOrders
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

type CreateCommand struct {
	CustomerID    types.ID
	CustomerName  string
	CustomerPhone string
	Item          string
	Weight        float64
	ItemValue     int64
	DeliveryFee   int64
	Pickup        Place
	Dropoff       Place
}

type AcceptCommand struct {
	OrderID   types.ID
	RiderID   types.ID
	RiderName string
	Timing    Schedule
}

type ClaimResponseCommand struct {
	OrderID    types.ID
	CustomerID types.ID
	Accepted   bool
}

type ChangeStatusCommand struct {
	OrderID types.ID
	RiderID types.ID
	Status  Status
}

// RiderCommand identifies a rider acting on one of their orders.
type RiderCommand struct {
	OrderID types.ID
	RiderID types.ID
}

// CustomerCommand identifies a customer acting on their own order.
type CustomerCommand struct {
	OrderID    types.ID
	CustomerID types.ID
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.CustomerID == "" || cmd.Item == "" {
		return "", ErrBadRequest
	}
	if cmd.DeliveryFee < 0 || cmd.ItemValue < 0 || cmd.Weight < 0 {
		return "", ErrBadRequest
	}
	if cmd.Pickup.Point().IsZero() || cmd.Dropoff.Point().IsZero() {
		return "", ErrBadRequest
	}
	id, err := s.store.Create(ctx, &Order{
		CustomerID:    cmd.CustomerID,
		CustomerName:  cmd.CustomerName,
		CustomerPhone: cmd.CustomerPhone,
		Item:          cmd.Item,
		Weight:        cmd.Weight,
		ItemValue:     cmd.ItemValue,
		DeliveryFee:   cmd.DeliveryFee,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
	})
	s.metrics.Transition(string(ActionSubmit), resultLabel(err))
	if err != nil {
		return "", err
	}
	s.appendEvent(ctx, id, StatusNone, StatusPending, ActionSubmit, ActorCustomer, &cmd.CustomerID)
	return id, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// Accept takes a pending order immediately (timing now) or provisionally for tomorrow,
// pending customer confirmation.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) error {
	if cmd.RiderID == "" || !cmd.Timing.IsValid() {
		return ErrBadRequest
	}
	action := ActionAcceptNow
	if cmd.Timing == ScheduleTomorrow {
		action = ActionAcceptTomorrow
	}
	if err := s.checkBalance(ctx, cmd.OrderID, cmd.RiderID); err != nil {
		s.metrics.Transition(string(action), resultLabel(err))
		return err
	}
	before, _, err := s.apply(ctx, cmd.OrderID, action, ActorRider, cmd.RiderID,
		func(o *Order, _ Lookup) (docstore.Fields, error) {
			if action == ActionAcceptNow {
				return docstore.Fields{
					"pickupSchedule": string(ScheduleNow),
					"riderId":        string(cmd.RiderID),
					"riderName":      cmd.RiderName,
					"acceptedAt":     docstore.ServerTimestamp,
					"tempRiderId":    nil,
					"tempRiderName":  "",
					"riderDismissed": false,
				}, nil
			}
			return docstore.Fields{
				"pickupSchedule":         string(ScheduleTomorrow),
				"tempRiderId":            string(cmd.RiderID),
				"tempRiderName":          cmd.RiderName,
				"riderDismissedTomorrow": false,
			}, nil
		})
	if err != nil {
		return err
	}

	ev := notify.Event{
		Kind:       notify.KindAcceptedNow,
		OrderID:    before.ID,
		CustomerID: before.CustomerID,
		RiderID:    cmd.RiderID,
		RiderName:  cmd.RiderName,
		Status:     string(StatusAccepted),
		Item:       before.Item,
		Fee:        before.DeliveryFee,
	}
	if action == ActionAcceptTomorrow {
		ev.Kind = notify.KindClaimedTomorrow
		ev.Status = string(StatusPendingConfirmation)
	}
	s.notifier.Notify(ctx, ev)
	return nil
}

// checkBalance is a plain read ahead of the accept write; the balance is not reserved.
func (s *Service) checkBalance(ctx context.Context, orderID, rider types.ID) error {
	if s.balance == nil {
		return nil
	}
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.DeliveryFee <= 0 {
		return nil
	}
	ok, err := s.balance.HasBalance(ctx, rider, o.DeliveryFee)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCoins
	}
	return nil
}

// RespondToClaim lets the customer confirm or decline a provisional tomorrow claim.
// Declining returns the order to the immediate pool.
func (s *Service) RespondToClaim(ctx context.Context, cmd ClaimResponseCommand) error {
	action := ActionDeclineClaim
	if cmd.Accepted {
		action = ActionConfirmClaim
	}
	before, to, err := s.apply(ctx, cmd.OrderID, action, ActorCustomer, cmd.CustomerID,
		func(o *Order, _ Lookup) (docstore.Fields, error) {
			if o.CustomerID != cmd.CustomerID {
				return nil, ErrForbidden
			}
			if o.TempRiderID == nil {
				return nil, ErrInvalidTransition
			}
			if cmd.Accepted {
				return docstore.Fields{
					"riderId":        string(*o.TempRiderID),
					"riderName":      o.TempRiderName,
					"acceptedAt":     docstore.ServerTimestamp,
					"tempRiderId":    nil,
					"tempRiderName":  "",
					"riderDismissed": false,
				}, nil
			}
			return docstore.Fields{
				"tempRiderId":    nil,
				"tempRiderName":  "",
				"pickupSchedule": string(ScheduleNow),
			}, nil
		})
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindClaimResolved,
		OrderID:    before.ID,
		CustomerID: before.CustomerID,
		RiderID:    derefID(before.TempRiderID),
		RiderName:  before.TempRiderName,
		Status:     string(to),
		Fee:        before.DeliveryFee,
	})
	return nil
}

// RejectActive hands an accepted order back to the pool and hides it from this rider.
func (s *Service) RejectActive(ctx context.Context, cmd RiderCommand) error {
	_, _, err := s.apply(ctx, cmd.OrderID, ActionRiderReject, ActorRider, cmd.RiderID,
		func(o *Order, _ Lookup) (docstore.Fields, error) {
			if !o.AssignedTo(cmd.RiderID) {
				return nil, ErrForbidden
			}
			return docstore.Fields{
				"riderId":             nil,
				"riderName":           "",
				"acceptedAt":          nil,
				"lastRejectedRiderId": string(cmd.RiderID),
			}, nil
		})
	return err
}

// ChangeStatus advances the order by exactly one step; newStatus must be that step.
func (s *Service) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) error {
	if !cmd.Status.IsValid() {
		return ErrBadRequest
	}
	before, to, err := s.apply(ctx, cmd.OrderID, ActionAdvance, ActorRider, cmd.RiderID,
		func(o *Order, _ Lookup) (docstore.Fields, error) {
			if !o.AssignedTo(cmd.RiderID) {
				return nil, ErrForbidden
			}
			next, _ := NextStatus(o.Status, o.PickupSchedule, ActionAdvance)
			if next != cmd.Status {
				return nil, ErrInvalidTransition
			}
			if next == StatusCompleted {
				return docstore.Fields{
					"completedAt":  docstore.ServerTimestamp,
					"coinDeducted": false,
				}, nil
			}
			return docstore.Fields{}, nil
		})
	if err != nil {
		return err
	}

	if to == StatusCompleted && s.settler != nil {
		if _, err := s.settler.SettleOrder(ctx, cmd.OrderID); err != nil {
			s.log.Error(s.log.WithOrderID(ctx, cmd.OrderID.String()), "settle completed order", err)
		}
	}
	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindStatusChanged,
		OrderID:    before.ID,
		CustomerID: before.CustomerID,
		RiderID:    cmd.RiderID,
		RiderName:  before.RiderName,
		Status:     string(to),
		Fee:        before.DeliveryFee,
	})
	return nil
}

// StartScheduled moves a confirmed tomorrow order into today's active list, refused
// when the rider already carries the maximum number of active orders.
func (s *Service) StartScheduled(ctx context.Context, cmd RiderCommand) error {
	before, _, err := s.apply(ctx, cmd.OrderID, ActionStartToday, ActorRider, cmd.RiderID,
		func(o *Order, look Lookup) (docstore.Fields, error) {
			if !o.AssignedTo(cmd.RiderID) {
				return nil, ErrForbidden
			}
			count, err := look.ActiveNowCount(cmd.RiderID)
			if err != nil {
				return nil, err
			}
			if count >= s.maxActive {
				return nil, ErrCapacityExceeded
			}
			return docstore.Fields{"pickupSchedule": string(ScheduleNow)}, nil
		})
	if errors.Is(err, ErrCapacityExceeded) {
		s.metrics.CapacityRefused()
	}
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindScheduledStarted,
		OrderID:    before.ID,
		CustomerID: before.CustomerID,
		RiderID:    cmd.RiderID,
		RiderName:  before.RiderName,
		Status:     string(StatusAccepted),
		Fee:        before.DeliveryFee,
	})
	return nil
}

// WithdrawScheduled lets the rider back out of a confirmed tomorrow order. The rider
// stays on the order so it shows as rejected in their scheduled list until dismissed.
func (s *Service) WithdrawScheduled(ctx context.Context, cmd RiderCommand) error {
	_, _, err := s.apply(ctx, cmd.OrderID, ActionWithdraw, ActorRider, cmd.RiderID,
		func(o *Order, _ Lookup) (docstore.Fields, error) {
			if !o.AssignedTo(cmd.RiderID) {
				return nil, ErrForbidden
			}
			return docstore.Fields{
				"lastRejectedRiderId":    string(cmd.RiderID),
				"riderDismissedTomorrow": false,
			}, nil
		})
	return err
}

// Cancel closes the order. Rider and claim fields stay so the rider can still see and
// dismiss it; Reopen clears them.
func (s *Service) Cancel(ctx context.Context, cmd CustomerCommand) error {
	_, _, err := s.apply(ctx, cmd.OrderID, ActionCancel, ActorCustomer, cmd.CustomerID,
		func(o *Order, _ Lookup) (docstore.Fields, error) {
			if o.CustomerID != cmd.CustomerID {
				return nil, ErrForbidden
			}
			return docstore.Fields{}, nil
		})
	return err
}

// Reopen puts a cancelled or rider-rejected order back into the immediate pool.
func (s *Service) Reopen(ctx context.Context, cmd CustomerCommand) error {
	_, _, err := s.apply(ctx, cmd.OrderID, ActionReopen, ActorCustomer, cmd.CustomerID,
		func(o *Order, _ Lookup) (docstore.Fields, error) {
			if o.CustomerID != cmd.CustomerID {
				return nil, ErrForbidden
			}
			return docstore.Fields{
				"pickupSchedule":         string(ScheduleNow),
				"riderId":                nil,
				"riderName":              "",
				"tempRiderId":            nil,
				"tempRiderName":          "",
				"acceptedAt":             nil,
				"riderDismissed":         false,
				"riderDismissedTomorrow": false,
			}, nil
		})
	return err
}

// Dismiss hides a cancelled or rejected order from the assigned rider's active list.
func (s *Service) Dismiss(ctx context.Context, cmd RiderCommand) error {
	_, err := s.store.Mutate(ctx, cmd.OrderID, func(o *Order, _ Lookup) (docstore.Fields, error) {
		if !o.AssignedTo(cmd.RiderID) {
			return nil, ErrForbidden
		}
		if !o.Status.IsClosed() {
			return nil, ErrInvalidTransition
		}
		return docstore.Fields{"riderDismissed": true}, nil
	})
	s.metrics.Transition("dismiss", resultLabel(err))
	return err
}

// DismissTomorrow hides an unconfirmed or abandoned tomorrow order from the rider's
// scheduled list.
func (s *Service) DismissTomorrow(ctx context.Context, cmd RiderCommand) error {
	_, err := s.store.Mutate(ctx, cmd.OrderID, func(o *Order, _ Lookup) (docstore.Fields, error) {
		if !o.AssignedTo(cmd.RiderID) && !o.ClaimedBy(cmd.RiderID) {
			return nil, ErrForbidden
		}
		switch o.Status {
		case StatusPendingConfirmation, StatusPending, StatusRiderRejected, StatusCancelled:
		default:
			return nil, ErrInvalidTransition
		}
		return docstore.Fields{"riderDismissedTomorrow": true}, nil
	})
	s.metrics.Transition("dismiss_tomorrow", resultLabel(err))
	return err
}

// HistoryDetails returns one of the rider's completed orders.
func (s *Service) HistoryDetails(ctx context.Context, cmd RiderCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !o.AssignedTo(cmd.RiderID) {
		return nil, ErrForbidden
	}
	if o.Status != StatusCompleted {
		return nil, ErrNotFound
	}
	return o, nil
}

// DeleteHistory permanently removes one of the rider's completed orders.
func (s *Service) DeleteHistory(ctx context.Context, cmd RiderCommand) error {
	if _, err := s.HistoryDetails(ctx, cmd); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, cmd.OrderID); err != nil {
		return err
	}
	s.metrics.Transition("delete_history", "ok")
	return nil
}

func (s *Service) ActiveNowCount(ctx context.Context, rider types.ID) (int, error) {
	return s.store.ActiveNowCount(ctx, rider)
}

// apply runs one table-driven transition: the status change comes from the table and
// decide contributes the action's other fields.
func (s *Service) apply(ctx context.Context, id types.ID, action Action, actorType string, actorID types.ID,
	decide func(o *Order, look Lookup) (docstore.Fields, error)) (*Order, Status, error) {

	if id == "" || actorID == "" {
		return nil, "", ErrBadRequest
	}
	var to Status
	before, err := s.store.Mutate(ctx, id, func(o *Order, look Lookup) (docstore.Fields, error) {
		next, err := NextStatus(o.Status, o.PickupSchedule, action)
		if err != nil {
			return nil, err
		}
		f, err := decide(o, look)
		if err != nil {
			return nil, err
		}
		f["status"] = string(next)
		to = next
		return f, nil
	})
	s.metrics.Transition(string(action), resultLabel(err))
	if err != nil {
		lctx := s.log.WithFields(ctx, map[string]any{"order_id": id.String(), "action": string(action)})
		s.log.Debug(lctx, "transition refused: "+err.Error())
		return nil, "", err
	}
	s.appendEvent(ctx, id, before.Status, to, action, actorType, &actorID)
	return before, to, nil
}

func (s *Service) appendEvent(ctx context.Context, id types.ID, from, to Status, action Action, actorType string, actorID *types.ID) {
	if s.journal == nil {
		return
	}
	err := s.journal.Append(ctx, &Event{
		OrderID:    id,
		FromStatus: from,
		ToStatus:   to,
		Action:     action,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn(s.log.WithOrderID(ctx, id.String()), "journal append failed", err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, ErrInsufficientCoins):
		return "insufficient_coins"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func derefID(id *types.ID) types.ID {
	if id == nil {
		return ""
	}
	return *id
}
