// Package console holds one client session: its subscriptions to the change
// feed, the latest observed view and the engines that react to it.
package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-delivery-console/internal/alerts"
	"github.com/ariefcatur/go-delivery-console/internal/dispatch"
	"github.com/ariefcatur/go-delivery-console/internal/feed"
	"github.com/ariefcatur/go-delivery-console/internal/inventory"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// Store paths the session subscribes to.
const (
	PathOrders    = "orders"
	PathProducts  = "products"
	PathEmployees = "employees"
	PathMessages  = "messages"
)

var errSubscriptionClosed = errors.New("feed subscription closed")

type Options struct {
	Resweep time.Duration
	Metrics *metrics.Set
	Logger  logx.Logger
	Now     func() time.Time
}

// Session owns everything one console instance observes. Two sessions share
// nothing but the store.
type Session struct {
	store     feed.Store
	inventory *inventory.Engine
	alerts    *alerts.Engine
	resweep   time.Duration
	metrics   *metrics.Set
	log       logx.Logger
	now       func() time.Time

	mu       sync.RWMutex
	view     map[string]orders.Order
	drivers  map[string]orders.Driver
	products map[string]orders.Product
	observed bool

	ready     chan struct{}
	readyOnce sync.Once
}

func NewSession(store feed.Store, inv *inventory.Engine, al *alerts.Engine, opts Options) *Session {
	s := &Session{
		store:     store,
		inventory: inv,
		alerts:    al,
		resweep:   opts.Resweep,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
		view:      map[string]orders.Order{},
		drivers:   map[string]orders.Driver{},
		products:  map[string]orders.Product{},
		ready:     make(chan struct{}),
	}
	if s.metrics == nil {
		s.metrics = metrics.NewUnregistered()
	}
	if s.log == nil {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("component", "session"))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run subscribes and drives the event loop until ctx is done. Products and
// employees are loaded before orders so the first orders snapshot sees a
// complete view. In-flight stock writes are awaited before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.inventory.Wait()
	}()

	products, err := s.store.Subscribe(ctx, PathProducts)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", PathProducts, err)
	}
	snap, err := first(ctx, products)
	if err != nil {
		return fmt.Errorf("initial %s: %w", PathProducts, err)
	}
	s.onProducts(ctx, snap)

	employees, err := s.store.Subscribe(ctx, PathEmployees)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", PathEmployees, err)
	}
	if snap, err = first(ctx, employees); err != nil {
		return fmt.Errorf("initial %s: %w", PathEmployees, err)
	}
	s.onEmployees(snap)

	ordersCh, err := s.store.Subscribe(ctx, PathOrders)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", PathOrders, err)
	}
	messages, err := s.store.SubscribeAdded(ctx, PathMessages, feed.AddedOptions{
		OrderBy: "timestamp",
		StartAt: orders.FormatTime(s.now()),
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", PathMessages, err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.inventory.Resweep(ctx, s.resweep, s.Orders)
	}()

	s.log.Info("session started", logx.String("mode", string(s.inventory.Mode())))
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-products:
			if !ok {
				return s.closed(ctx, PathProducts)
			}
			s.onProducts(ctx, snap)
		case snap, ok := <-employees:
			if !ok {
				return s.closed(ctx, PathEmployees)
			}
			s.onEmployees(snap)
		case snap, ok := <-ordersCh:
			if !ok {
				return s.closed(ctx, PathOrders)
			}
			s.onOrders(ctx, snap)
		case child, ok := <-messages:
			if !ok {
				return s.closed(ctx, PathMessages)
			}
			s.onMessage(ctx, child)
		}
	}
}

// Ready is closed once the first orders snapshot has been processed.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Order returns the latest observed state of one order.
func (s *Session) Order(id string) (orders.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.view[id]
	return o, ok
}

// Orders returns the latest observed orders. The map is replaced on every
// snapshot, never modified, and must not be modified by callers.
func (s *Session) Orders() map[string]orders.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// List returns observed orders newest first.
func (s *Session) List() []orders.Order {
	view := s.Orders()
	out := make([]orders.Order, 0, len(view))
	for _, o := range view {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Session) Products() map[string]orders.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.products
}

// Directory builds a driver directory over the latest view.
func (s *Session) Directory() *dispatch.Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return dispatch.NewDirectory(s.view, s.drivers)
}

func (s *Session) CurrentOrder(login string) (orders.Order, bool) {
	return s.Directory().CurrentOrder(login)
}

func (s *Session) Alerts() *alerts.Engine { return s.alerts }

func (s *Session) onOrders(ctx context.Context, snap feed.Snapshot) {
	view, err := orders.DecodeOrders(snap.Value, func(id string, err error) {
		s.log.Warn("skipping undecodable order", logx.String("order_id", id), logx.Err(err))
	})
	if err != nil {
		s.log.Error("decode orders snapshot", logx.Err(err))
		return
	}

	s.mu.RLock()
	prev, baseline := s.view, !s.observed
	s.mu.RUnlock()
	if !baseline {
		s.checkTransitions(prev, view)
	}

	s.mu.Lock()
	s.view, s.observed = view, true
	s.mu.Unlock()

	s.inventory.Reconcile(ctx, view)
	s.alerts.ObserveOrders(ctx, view)

	if baseline {
		s.readyOnce.Do(func() { close(s.ready) })
		s.log.Info("orders baseline observed", logx.Int("orders", len(view)))
	}
}

// checkTransitions flags status changes the order graph does not allow.
// They come from writers outside the lifecycle service and cannot be
// rejected after the fact.
func (s *Session) checkTransitions(prev, view map[string]orders.Order) {
	for id, o := range view {
		p, ok := prev[id]
		if !ok || p.RawStatus == o.RawStatus || p.Status == o.Status {
			continue
		}
		if orders.CanTransition(p.Status, o.Status) {
			continue
		}
		s.metrics.OutOfBandTransitions.Inc()
		s.log.Warn("out-of-band status transition",
			logx.String("order_id", id),
			logx.String("from", p.RawStatus),
			logx.String("to", o.RawStatus),
		)
	}
}

func (s *Session) onProducts(ctx context.Context, snap feed.Snapshot) {
	products, err := orders.DecodeProducts(snap.Value, func(id string, err error) {
		s.log.Warn("skipping undecodable product", logx.String("product_id", id), logx.Err(err))
	})
	if err != nil {
		s.log.Error("decode products snapshot", logx.Err(err))
		return
	}
	s.mu.Lock()
	s.products = products
	s.mu.Unlock()
	s.alerts.ObserveProducts(ctx, products)
}

func (s *Session) onEmployees(snap feed.Snapshot) {
	drivers, err := orders.DecodeDrivers(snap.Value, func(id string, err error) {
		s.log.Warn("skipping undecodable employee", logx.String("employee_id", id), logx.Err(err))
	})
	if err != nil {
		s.log.Error("decode employees snapshot", logx.Err(err))
		return
	}
	s.mu.Lock()
	s.drivers = drivers
	s.mu.Unlock()
}

func (s *Session) onMessage(ctx context.Context, child feed.Child) {
	b, err := orders.DecodeBroadcast(child.Key, child.Value)
	if err != nil {
		s.log.Warn("skipping undecodable message", logx.String("message_id", child.Key), logx.Err(err))
		return
	}
	s.alerts.ObserveBroadcast(ctx, b)
}

func (s *Session) closed(ctx context.Context, path string) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", path, errSubscriptionClosed)
}

func first(ctx context.Context, ch <-chan feed.Snapshot) (feed.Snapshot, error) {
	select {
	case <-ctx.Done():
		return feed.Snapshot{}, ctx.Err()
	case snap, ok := <-ch:
		if !ok {
			return feed.Snapshot{}, errSubscriptionClosed
		}
		return snap, nil
	}
}
