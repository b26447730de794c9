// README: Best-effort notification side channel; delivery runs async and failures are only logged and counted.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/types"
)

type Kind string

const (
	KindAcceptedNow      Kind = "accepted_now"
	KindClaimedTomorrow  Kind = "claimed_tomorrow"
	KindScheduledStarted Kind = "scheduled_started"
	KindClaimResolved    Kind = "claim_resolved"
	KindStatusChanged    Kind = "status_changed"
)

// Event describes an order change worth telling someone about.
type Event struct {
	Kind       Kind
	OrderID    types.ID
	CustomerID types.ID
	RiderID    types.ID
	RiderName  string
	Status     string
	Item       string
	Fee        int64
	At         time.Time
}

// Text renders the chat message for e.
func (e Event) Text() string {
	switch e.Kind {
	case KindAcceptedNow:
		return fmt.Sprintf("Order %s accepted by %s (%s, fee %d)", e.OrderID, e.RiderName, e.Item, e.Fee)
	case KindClaimedTomorrow:
		return fmt.Sprintf("Order %s claimed for tomorrow by %s, waiting for customer confirmation", e.OrderID, e.RiderName)
	case KindScheduledStarted:
		return fmt.Sprintf("Scheduled order %s started today by %s", e.OrderID, e.RiderName)
	case KindClaimResolved:
		return fmt.Sprintf("Order %s claim resolved: %s", e.OrderID, e.Status)
	default:
		return fmt.Sprintf("Order %s is now %s", e.OrderID, e.Status)
	}
}

// Notifier never reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Handles(k Kind) bool
	Send(ctx context.Context, e Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Fanout delivers each event to every channel that handles its kind, each on its own
// goroutine with its own timeout.
type Fanout struct {
	channels []Channel
	log      *logger.Logger
	metrics  *metrics.Dispatch
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewFanout(log *logger.Logger, m *metrics.Dispatch, timeout time.Duration, channels ...Channel) *Fanout {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{channels: channels, log: log, metrics: m, timeout: timeout}
}

func (f *Fanout) Notify(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	base := context.WithoutCancel(ctx)
	for _, ch := range f.channels {
		if !ch.Handles(e.Kind) {
			continue
		}
		f.wg.Add(1)
		go func(ch Channel) {
			defer f.wg.Done()
			sendCtx, cancel := context.WithTimeout(base, f.timeout)
			defer cancel()
			if err := ch.Send(sendCtx, e); err != nil {
				f.metrics.NotifyFailed(ch.Name())
				lctx := f.log.WithFields(sendCtx, map[string]any{
					"channel":  ch.Name(),
					"kind":     string(e.Kind),
					"order_id": e.OrderID.String(),
				})
				f.log.Warn(lctx, "notification failed", err)
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
