package alerts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

type Options struct {
	Surfaces Surfaces
	Gate     *Gate
	Metrics  *metrics.Set
	Logger   logx.Logger
	Now      func() time.Time
}

// Engine is driven by the session event loop; its methods are not meant to
// be called concurrently with each other.
type Engine struct {
	seen     *Seen
	stock    *StockTracker
	inbox    *Inbox
	surfaces Surfaces
	gate     *Gate
	metrics  *metrics.Set
	log      logx.Logger
	now      func() time.Time

	baselined bool
	prev      map[string]orders.Status
}

func NewEngine(seen *Seen, stock *StockTracker, inbox *Inbox, opts Options) *Engine {
	e := &Engine{
		seen:     seen,
		stock:    stock,
		inbox:    inbox,
		surfaces: opts.Surfaces,
		gate:     opts.Gate,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      opts.Now,
		prev:     map[string]orders.Status{},
	}
	if e.gate == nil {
		e.gate = NewGate("")
	}
	if e.metrics == nil {
		e.metrics = metrics.NewUnregistered()
	}
	if e.log == nil {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("component", "alerts"))
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) Inbox() *Inbox { return e.inbox }

func (e *Engine) Gate() *Gate { return e.gate }

// ObserveOrders diffs a full orders snapshot against the previous one. The
// first snapshot is only a baseline.
func (e *Engine) ObserveOrders(ctx context.Context, view map[string]orders.Order) {
	if !e.baselined {
		e.baselined = true
		e.remember(view)
		e.log.Debug("orders baseline taken", logx.Int("orders", len(view)))
		return
	}

	ids := make([]string, 0, len(view))
	for id := range view {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := view[id]
		prev, existed := e.prev[id]
		switch {
		case !existed && o.Status == orders.StatusPlaced:
			if e.seen.First(TypeOrder, id) {
				e.notify(ctx, Notification{
					Title:   "New order",
					Message: orderMessage(o),
					Type:    TypeOrder,
					OrderID: id,
					Route:   RouteOrderQueue,
				})
			}
		case existed && prev != orders.StatusReadyForPickup && o.Status == orders.StatusReadyForPickup:
			if e.seen.First(TypeDelivery, id) {
				e.notify(ctx, Notification{
					Title:   "Ready for pickup",
					Message: pickupMessage(o),
					Type:    TypeDelivery,
					OrderID: id,
					Route:   RouteDeliveryQueue,
				})
			}
		}
	}
	e.remember(view)
}

// ObserveProducts feeds a products snapshot to the low-stock tracker.
func (e *Engine) ObserveProducts(ctx context.Context, products map[string]orders.Product) {
	for _, ls := range e.stock.ObserveProducts(products) {
		name := ls.Name
		if name == "" {
			name = ls.ProductID
		}
		if ls.Variant != "" {
			name += " (" + ls.Variant + ")"
		}
		e.notify(ctx, Notification{
			Title:   "Low stock",
			Message: fmt.Sprintf("%s is down to %d", name, ls.Quantity),
			Type:    TypeStock,
			Route:   RouteInventory,
		})
	}
}

// ObserveBroadcast announces a message appended under messages/.
func (e *Engine) ObserveBroadcast(ctx context.Context, b orders.Broadcast) {
	if !e.seen.First(TypeInfo, b.ID) {
		return
	}
	title := b.Title
	if title == "" {
		title = "Announcement"
	}
	e.notify(ctx, Notification{Title: title, Message: b.Message, Type: TypeInfo})
}

func (e *Engine) remember(view map[string]orders.Order) {
	next := make(map[string]orders.Status, len(view))
	for id, o := range view {
		next[id] = o.Status
	}
	e.prev = next
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	n.ID = uuid.NewString()
	n.Timestamp = e.now()
	e.inbox.Add(n)
	e.metrics.Notifications.WithLabelValues(n.Type).Inc()
	e.log.Info("notification", logx.String("type", n.Type), logx.String("order_id", n.OrderID), logx.String("title", n.Title))

	if !e.gate.Surfacing() {
		return
	}
	if t := e.surfaces.Toast; t != nil {
		e.try(ctx, "toast", func() error { return t.Toast(ctx, n) })
	}
	if s := e.surfaces.Sound; s != nil {
		e.try(ctx, "sound", func() error { return s.Play(ctx, ToneFor(n.Type)) })
	}
	if h := e.surfaces.Haptics; h != nil {
		e.try(ctx, "haptics", func() error { return h.Vibrate(ctx, PulseFor(n.Type)) })
	}
}

// try runs one surface call; failures and panics are logged and dropped.
func (e *Engine) try(_ context.Context, surface string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.SurfaceFailures.WithLabelValues(surface).Inc()
			e.log.Warn("notification surface panicked", logx.String("surface", surface), logx.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		e.metrics.SurfaceFailures.WithLabelValues(surface).Inc()
		e.log.Warn("notification surface failed", logx.String("surface", surface), logx.Err(err))
	}
}

func orderMessage(o orders.Order) string {
	if o.Total.Amount.IsZero() {
		return fmt.Sprintf("Order #%s has been placed", o.ID)
	}
	msg := fmt.Sprintf("Order #%s has been placed, total %s", o.ID, o.Total.Amount.StringFixed(2))
	if o.Total.Method != "" {
		msg += " " + o.Total.Method
	}
	return msg
}

func pickupMessage(o orders.Order) string {
	if o.PartnerName == "" {
		return fmt.Sprintf("Order #%s is ready for pickup", o.ID)
	}
	return fmt.Sprintf("Order #%s is ready for pickup by %s", o.ID, o.PartnerName)
}
