// README: Customer tracking controller: one order, its assigned rider's live position and ETA.
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"dispatch/internal/docstore"
	"dispatch/internal/logger"
	"dispatch/internal/maps"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

const (
	viewName           = "tracking"
	defaultETAInterval = 30 * time.Second
)

// ETAProvider estimates travel between two points.
type ETAProvider interface {
	Estimate(ctx context.Context, from, to types.Point) (maps.Estimate, error)
}

// Target is where the rider is currently heading.
type Target string

const (
	TargetPickup  Target = "pickup"
	TargetDropoff Target = "dropoff"
)

type ETA struct {
	Target       Target
	Duration     time.Duration
	DistanceText string
	At           time.Time
}

// View is everything the tracking page shows. Order is nil once the order is gone.
type View struct {
	Order       *order.Order
	Steps       []Step
	ClaimPrompt bool
	Rider       *location.Position
	Trail       []types.Point
	ETA         *ETA
}

// Renderer receives every new View, with the controller lock held.
type Renderer interface {
	Render(ctx context.Context, v View)
}

type RenderFunc func(ctx context.Context, v View)

func (f RenderFunc) Render(ctx context.Context, v View) { f(ctx, v) }

type Deps struct {
	Orders *order.Service
	// Router is optional; without it no ETA is shown.
	Router      ETAProvider
	ETAInterval time.Duration
	TrailLimit  int
	Metrics     *metrics.Dispatch
	Logger      *logger.Logger
	Watch       docstore.WatchOptions
	Now         func() time.Time
}

type Controller struct {
	deps     Deps
	customer types.ID
	orderID  types.ID
	render   Renderer
	log      *logger.Logger
	now      func() time.Time

	mu        sync.Mutex
	view      View
	trail     *location.Track
	riderID   types.ID
	riderStop context.CancelFunc
	etaAt     time.Time
	etaTarget Target

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(deps Deps, customer, orderID types.ID, r Renderer) *Controller {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if deps.ETAInterval <= 0 {
		deps.ETAInterval = defaultETAInterval
	}
	if r == nil {
		r = RenderFunc(func(context.Context, View) {})
	}
	return &Controller{
		deps:     deps,
		customer: customer,
		orderID:  orderID,
		render:   r,
		log:      log,
		now:      now,
		trail:    location.NewTrack(deps.TrailLimit),
	}
}

// Start checks that the customer owns the order and opens the order subscription.
func (c *Controller) Start(ctx context.Context) error {
	o, err := c.deps.Orders.Get(ctx, c.orderID)
	if err != nil {
		return err
	}
	if o.CustomerID != c.customer {
		return order.ErrForbidden
	}

	ctx = c.log.WithOrderID(ctx, c.orderID.String())
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		done := c.deps.Metrics.ViewOpened(viewName)
		defer done()
		err := c.watch(c.ctx, order.OrderQuery(c.orderID), c.onOrder)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error(c.ctx, "tracking subscription stopped", err)
		}
	}()
	return nil
}

func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// View returns a copy of the last rendered view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// RespondToProvisionalClaim confirms or declines a rider's claim for tomorrow.
func (c *Controller) RespondToProvisionalClaim(ctx context.Context, accepted bool) error {
	return c.deps.Orders.RespondToClaim(ctx, order.ClaimResponseCommand{
		OrderID:    c.orderID,
		CustomerID: c.customer,
		Accepted:   accepted,
	})
}

func (c *Controller) watch(ctx context.Context, q docstore.Query, fn func(context.Context, docstore.Snapshot)) error {
	opts := c.deps.Watch
	opts.OnError = func(err error) { c.log.Warn(ctx, "tracking subscription restarting", err) }
	return docstore.Watch(ctx, c.deps.Orders.Store().Docs(), q, opts, func(snap docstore.Snapshot) error {
		fn(ctx, snap)
		return nil
	})
}

func (c *Controller) onOrder(ctx context.Context, snap docstore.Snapshot) {
	var o *order.Order
	if len(snap.Docs) > 0 {
		decoded, err := order.Decode(snap.Docs[0])
		if err != nil {
			c.log.Warn(ctx, "undecodable order", err)
			return
		}
		o = decoded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Order = o
	c.view.Steps = nil
	c.view.ClaimPrompt = false
	var rider types.ID
	if o != nil {
		c.view.Steps = Steps(o.Status)
		c.view.ClaimPrompt = o.Status == order.StatusPendingConfirmation && o.TempRiderID != nil
		if o.RiderID != nil && !o.Status.IsClosed() && o.Status != order.StatusCompleted {
			rider = *o.RiderID
		}
	}
	c.followRiderLocked(rider)
	if c.targetLocked() != c.etaTarget {
		c.view.ETA = nil
		c.etaAt = time.Time{}
	}
	c.render.Render(ctx, c.snapshotLocked())
}

// followRiderLocked switches the location subscription to rider, or stops it when rider
// is empty.
func (c *Controller) followRiderLocked(rider types.ID) {
	if rider == c.riderID {
		return
	}
	if c.riderStop != nil {
		c.riderStop()
		c.riderStop = nil
	}
	c.riderID = rider
	c.view.Rider = nil
	c.view.ETA = nil
	c.etaAt = time.Time{}
	c.trail = location.NewTrack(c.deps.TrailLimit)
	if rider == "" || c.ctx == nil {
		return
	}

	rctx, stop := context.WithCancel(c.log.WithRiderID(c.ctx, rider.String()))
	c.riderStop = stop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.watch(rctx, location.RiderQuery(rider), func(ctx context.Context, snap docstore.Snapshot) {
			c.onRider(ctx, rider, snap)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn(rctx, "rider location subscription stopped", err)
		}
	}()
}

func (c *Controller) onRider(ctx context.Context, rider types.ID, snap docstore.Snapshot) {
	pos, online := location.DecodeSnapshot(snap)

	c.mu.Lock()
	if c.riderID != rider {
		c.mu.Unlock()
		return
	}
	if !online {
		c.view.Rider = nil
		c.render.Render(ctx, c.snapshotLocked())
		c.mu.Unlock()
		return
	}
	c.view.Rider = &pos
	c.trail.Add(pos.Point)
	target, dest := c.targetLocked(), c.destinationLocked()
	needETA := c.deps.Router != nil && target != "" &&
		(target != c.etaTarget || c.now().Sub(c.etaAt) >= c.deps.ETAInterval)
	if !needETA {
		c.render.Render(ctx, c.snapshotLocked())
		c.mu.Unlock()
		return
	}
	c.etaAt = c.now()
	c.etaTarget = target
	c.mu.Unlock()

	est, err := c.deps.Router.Estimate(ctx, pos.Point, dest)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.riderID != rider {
		return
	}
	if err != nil {
		c.log.Warn(ctx, "eta estimate", err)
	} else {
		c.view.ETA = &ETA{Target: target, Duration: est.Duration, DistanceText: est.DistanceText, At: c.etaAt}
	}
	c.render.Render(ctx, c.snapshotLocked())
}

// targetLocked is the pickup while the rider is on the way to collect, the dropoff while
// delivering, and empty otherwise.
func (c *Controller) targetLocked() Target {
	o := c.view.Order
	if o == nil {
		return ""
	}
	switch o.Status {
	case order.StatusAccepted:
		return TargetPickup
	case order.StatusOnTheWay:
		return TargetDropoff
	}
	return ""
}

func (c *Controller) destinationLocked() types.Point {
	o := c.view.Order
	if c.targetLocked() == TargetPickup {
		return o.Pickup.Point()
	}
	return o.Dropoff.Point()
}

func (c *Controller) snapshotLocked() View {
	v := c.view
	v.Steps = append([]Step(nil), c.view.Steps...)
	v.Trail = c.trail.Points()
	if c.view.Rider != nil {
		r := *c.view.Rider
		v.Rider = &r
	}
	if c.view.ETA != nil {
		e := *c.view.ETA
		v.ETA = &e
	}
	return v
}
