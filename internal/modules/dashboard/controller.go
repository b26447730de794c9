// README: Rider dashboard controller: owns the live views of one rider session and routes its actions.
package dashboard

import (
	"context"
	"errors"
	"sync"

	"dispatch/internal/docstore"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/ledger"
	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

// Wallet is the coin and rating panel.
type Wallet struct {
	Coins         int64
	Rating        float64
	RatingDisplay string
	RatingCount   int64
}

// Update carries one re-rendered view. Exactly one payload field is set, matching View.
type Update struct {
	View      ViewName
	Pending   []*order.Order
	Active    *ActiveView
	Scheduled *ScheduledView
	History   *HistoryView
	Wallet    *Wallet
}

// Renderer receives view updates. Render is called with the controller lock held, so it
// must not call back into the controller.
type Renderer interface {
	Render(ctx context.Context, u Update)
}

type RenderFunc func(ctx context.Context, u Update)

func (f RenderFunc) Render(ctx context.Context, u Update) { f(ctx, u) }

// State is a copy of the controller's last rendered views.
type State struct {
	Pending   []*order.Order
	Active    ActiveView
	Scheduled ScheduledView
	History   HistoryView
	Wallet    *Wallet
}

type Deps struct {
	Orders  *order.Service
	Ledger  *ledger.Service
	Metrics *metrics.Dispatch
	Logger  *logger.Logger
	// Watch controls resubscription after listener failures.
	Watch docstore.WatchOptions
}

type Controller struct {
	rider     types.ID
	riderName string
	orders    *order.Service
	ledger    *ledger.Service
	docs      docstore.Store
	render    Renderer
	metrics   *metrics.Dispatch
	log       *logger.Logger
	watch     docstore.WatchOptions

	mu       sync.Mutex
	pending  []*order.Order
	assigned []*order.Order
	claimed  []*order.Order
	history  HistoryView
	wallet   *Wallet

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(deps Deps, rider types.ID, riderName string, r Renderer) *Controller {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if r == nil {
		r = RenderFunc(func(context.Context, Update) {})
	}
	return &Controller{
		rider:     rider,
		riderName: riderName,
		orders:    deps.Orders,
		ledger:    deps.Ledger,
		docs:      deps.Orders.Store().Docs(),
		render:    r,
		metrics:   deps.Metrics,
		log:       log,
		watch:     deps.Watch,
	}
}

func (c *Controller) Rider() types.ID { return c.rider }

// Start opens every view subscription and, when a ledger is wired, the wallet panel and
// the settlement watcher. They run until ctx is cancelled or Close is called.
func (c *Controller) Start(ctx context.Context) {
	ctx = c.log.WithRiderID(ctx, c.rider.String())
	ctx, c.cancel = context.WithCancel(ctx)

	c.spawn(ctx, ViewPending, order.PendingQuery(), c.onPending)
	c.spawn(ctx, ViewActive, order.AssignedQuery(c.rider), c.onAssigned)
	c.spawn(ctx, ViewScheduled, order.ClaimedQuery(c.rider), c.onClaimed)
	c.spawn(ctx, ViewHistory, order.CompletedQuery(c.rider), c.onHistory)

	if c.ledger == nil {
		return
	}
	walletQuery := docstore.Collection(docstore.CollRiders).Doc(string(c.rider))
	c.spawn(ctx, ViewWallet, walletQuery, c.onWallet)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.ledger.WatchUnsettled(ctx, c.rider); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error(ctx, "ledger watcher stopped", err)
		}
	}()
}

// Close cancels every subscription and waits for them to finish.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Controller) spawn(ctx context.Context, view ViewName, q docstore.Query, fn func(context.Context, docstore.Snapshot)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		done := c.metrics.ViewOpened(string(view))
		defer done()

		vctx := c.log.WithField(ctx, "view", string(view))
		opts := c.watch
		opts.OnError = func(err error) { c.log.Warn(vctx, "view subscription restarting", err) }
		err := docstore.Watch(vctx, c.docs, q, opts, func(snap docstore.Snapshot) error {
			fn(vctx, snap)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error(vctx, "view subscription stopped", err)
		}
	}()
}

func (c *Controller) decode(ctx context.Context, snap docstore.Snapshot) []*order.Order {
	orders, skipped := order.DecodeAll(snap.Docs)
	if skipped > 0 {
		c.log.Warn(c.log.WithField(ctx, "skipped", skipped), "undecodable orders in snapshot", order.ErrInvalidStatus)
	}
	return orders
}

func (c *Controller) onPending(ctx context.Context, snap docstore.Snapshot) {
	orders := c.decode(ctx, snap)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = PendingPool(orders, c.rider)
	c.render.Render(ctx, Update{View: ViewPending, Pending: c.pending})
}

// The assigned result set feeds both the active view and the confirmed half of the
// scheduled view.
func (c *Controller) onAssigned(ctx context.Context, snap docstore.Snapshot) {
	orders := c.decode(ctx, snap)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assigned = orders
	active := Active(c.assigned, c.rider)
	scheduled := Scheduled(c.claimed, c.assigned, c.rider)
	c.render.Render(ctx, Update{View: ViewActive, Active: &active})
	c.render.Render(ctx, Update{View: ViewScheduled, Scheduled: &scheduled})
}

func (c *Controller) onClaimed(ctx context.Context, snap docstore.Snapshot) {
	orders := c.decode(ctx, snap)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = orders
	scheduled := Scheduled(c.claimed, c.assigned, c.rider)
	c.render.Render(ctx, Update{View: ViewScheduled, Scheduled: &scheduled})
}

func (c *Controller) onHistory(ctx context.Context, snap docstore.Snapshot) {
	orders := c.decode(ctx, snap)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = History(orders, c.rider)
	h := c.history
	c.render.Render(ctx, Update{View: ViewHistory, History: &h})
}

func (c *Controller) onWallet(ctx context.Context, snap docstore.Snapshot) {
	r, ok := ledger.RiderFromSnapshot(snap)
	if !ok {
		return
	}
	avg := r.AverageRating()
	w := &Wallet{
		Coins:         r.Coins,
		Rating:        avg,
		RatingDisplay: ledger.FormatRating(avg),
		RatingCount:   r.RatingCount,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallet = w
	c.render.Render(ctx, Update{View: ViewWallet, Wallet: w})
}

// State returns the last projection of every view.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Pending:   append([]*order.Order(nil), c.pending...),
		Active:    Active(c.assigned, c.rider),
		Scheduled: Scheduled(c.claimed, c.assigned, c.rider),
		History:   c.history,
	}
	if c.wallet != nil {
		w := *c.wallet
		st.Wallet = &w
	}
	return st
}

func (c *Controller) Accept(ctx context.Context, orderID types.ID, timing order.Schedule) error {
	return c.orders.Accept(ctx, order.AcceptCommand{
		OrderID:   orderID,
		RiderID:   c.rider,
		RiderName: c.riderName,
		Timing:    timing,
	})
}

func (c *Controller) RejectActive(ctx context.Context, orderID types.ID) error {
	return c.orders.RejectActive(ctx, c.cmd(orderID))
}

func (c *Controller) ChangeStatus(ctx context.Context, orderID types.ID, next order.Status) error {
	return c.orders.ChangeStatus(ctx, order.ChangeStatusCommand{OrderID: orderID, RiderID: c.rider, Status: next})
}

func (c *Controller) Dismiss(ctx context.Context, orderID types.ID) error {
	return c.orders.Dismiss(ctx, c.cmd(orderID))
}

func (c *Controller) DismissTomorrow(ctx context.Context, orderID types.ID) error {
	return c.orders.DismissTomorrow(ctx, c.cmd(orderID))
}

func (c *Controller) StartTomorrowOrder(ctx context.Context, orderID types.ID) error {
	return c.orders.StartScheduled(ctx, c.cmd(orderID))
}

func (c *Controller) WithdrawScheduled(ctx context.Context, orderID types.ID) error {
	return c.orders.WithdrawScheduled(ctx, c.cmd(orderID))
}

func (c *Controller) DeleteHistory(ctx context.Context, orderID types.ID) error {
	return c.orders.DeleteHistory(ctx, c.cmd(orderID))
}

func (c *Controller) ViewHistoryDetails(ctx context.Context, orderID types.ID) (*order.Order, error) {
	return c.orders.HistoryDetails(ctx, c.cmd(orderID))
}

func (c *Controller) cmd(orderID types.ID) order.RiderCommand {
	return order.RiderCommand{OrderID: orderID, RiderID: c.rider}
}
