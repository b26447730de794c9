// README: Prometheus collectors for order transitions, settlements, notifications, live views and HTTP.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch groups every collector the service exports. A nil *Dispatch is valid and
// records nothing.
type Dispatch struct {
	transitions      *prometheus.CounterVec
	capacityRefusals prometheus.Counter
	settlements      *prometheus.CounterVec
	notifyFailures   *prometheus.CounterVec
	liveViews        *prometheus.GaugeVec
	locationUpdates  *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewDispatch registers the collectors on reg.
func NewDispatch(reg prometheus.Registerer) *Dispatch {
	if reg == nil {
		return &Dispatch{}
	}
	d := &Dispatch{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_order_transitions_total",
			Help: "Order lifecycle actions by outcome.",
		}, []string{"action", "result"}),
		capacityRefusals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_capacity_refusals_total",
			Help: "Scheduled starts refused by the active-order cap.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_settlements_total",
			Help: "Completed-order fee settlements by outcome.",
		}, []string{"result"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_notify_failures_total",
			Help: "Best-effort notification deliveries that failed.",
		}, []string{"channel"}),
		liveViews: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_live_views",
			Help: "Open live subscriptions by view.",
		}, []string{"view"}),
		locationUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_location_updates_total",
			Help: "Rider location updates by outcome.",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	reg.MustRegister(d.transitions, d.capacityRefusals, d.settlements, d.notifyFailures,
		d.liveViews, d.locationUpdates, d.requestDuration)
	return d
}

func (d *Dispatch) Transition(action, result string) {
	if d == nil || d.transitions == nil {
		return
	}
	d.transitions.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

func (d *Dispatch) CapacityRefused() {
	if d == nil || d.capacityRefusals == nil {
		return
	}
	d.capacityRefusals.Inc()
}

func (d *Dispatch) Settlement(result string) {
	if d == nil || d.settlements == nil {
		return
	}
	d.settlements.WithLabelValues(normalizeLabel(result)).Inc()
}

func (d *Dispatch) NotifyFailed(channel string) {
	if d == nil || d.notifyFailures == nil {
		return
	}
	d.notifyFailures.WithLabelValues(normalizeLabel(channel)).Inc()
}

// ViewOpened increments the live-view gauge and returns the matching decrement.
func (d *Dispatch) ViewOpened(view string) func() {
	if d == nil || d.liveViews == nil {
		return func() {}
	}
	g := d.liveViews.WithLabelValues(normalizeLabel(view))
	g.Inc()
	return g.Dec
}

func (d *Dispatch) LocationUpdate(result string) {
	if d == nil || d.locationUpdates == nil {
		return
	}
	d.locationUpdates.WithLabelValues(normalizeLabel(result)).Inc()
}

func (d *Dispatch) ObserveRequest(route string, code int, elapsed time.Duration) {
	if d == nil || d.requestDuration == nil {
		return
	}
	d.requestDuration.WithLabelValues(normalizeLabel(route), strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
