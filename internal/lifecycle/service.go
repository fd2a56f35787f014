// Package lifecycle is the only place that writes order status. Every write
// is checked against the order graph before anything reaches the store.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/dispatch"
	"github.com/ariefcatur/go-delivery-console/internal/feed"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// Lookup serves the latest observed order state.
type Lookup interface {
	Order(id string) (orders.Order, bool)
	Directory() *dispatch.Directory
}

// AdvanceRequest carries what the next step may need. DriverKey is the
// employee record key picked by the operator for a pickup.
type AdvanceRequest struct {
	DriverKey string
}

// Transition describes an applied status write.
type Transition struct {
	OrderID    string
	From       orders.Status
	To         orders.Status
	At         time.Time
	Assignment *dispatch.Assignment
}

type Options struct {
	Producer  string
	Publisher orders.Publisher
	Metrics   *metrics.Set
	Logger    logx.Logger
	Now       func() time.Time
}

type Service struct {
	store    feed.Store
	cond     feed.Conditional
	view     Lookup
	producer string
	pub      orders.Publisher
	metrics  *metrics.Set
	log      logx.Logger
	now      func() time.Time
}

func NewService(store feed.Store, view Lookup, opts Options) *Service {
	s := &Service{
		store:    store,
		view:     view,
		producer: opts.Producer,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      opts.Now,
	}
	s.cond, _ = store.(feed.Conditional)
	if s.pub == nil {
		s.pub = orders.NopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewUnregistered()
	}
	if s.log == nil {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("component", "lifecycle"))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Advance moves the order one step along the chain. Moving into Ready for
// Pickup needs req.DriverKey.
func (s *Service) Advance(ctx context.Context, orderID string, req AdvanceRequest) (Transition, error) {
	o, err := s.current(orderID)
	if err != nil {
		return Transition{}, err
	}
	next, ok := orders.Next(o.Status)
	if !ok {
		return Transition{}, s.reject("no_next", fmt.Errorf("order %s in %q has no next status: %w", orderID, o.RawStatus, apperr.ErrInvalid))
	}
	var a *dispatch.Assignment
	if next == orders.StatusReadyForPickup {
		if req.DriverKey == "" {
			return Transition{}, s.reject("no_driver", fmt.Errorf("order %s: %w", orderID, apperr.ErrNoDriver))
		}
		resolved, err := s.view.Directory().Resolve(req.DriverKey)
		if err != nil {
			return Transition{}, s.reject("driver", err)
		}
		a = &resolved
	}
	return s.Transition(ctx, orderID, next, a)
}

// Assign hands a packed order to a driver; it is Advance restricted to the
// pickup step.
func (s *Service) Assign(ctx context.Context, orderID, driverKey string) (Transition, error) {
	o, err := s.current(orderID)
	if err != nil {
		return Transition{}, err
	}
	if next, _ := orders.Next(o.Status); next != orders.StatusReadyForPickup {
		return Transition{}, s.reject("not_packed", fmt.Errorf("order %s in %q cannot be assigned: %w", orderID, o.RawStatus, apperr.ErrInvalid))
	}
	return s.Advance(ctx, orderID, AdvanceRequest{DriverKey: driverKey})
}

func (s *Service) Cancel(ctx context.Context, orderID string) (Transition, error) {
	return s.Transition(ctx, orderID, orders.StatusCancelled, nil)
}

// Transition writes from → to as one update: status, both timestamps and,
// for a pickup, the three delivery_partner fields. Nothing is written when
// any check fails.
func (s *Service) Transition(ctx context.Context, orderID string, to orders.Status, a *dispatch.Assignment) (Transition, error) {
	o, err := s.current(orderID)
	if err != nil {
		return Transition{}, err
	}
	if !orders.CanTransition(o.Status, to) {
		return Transition{}, s.reject("invalid", fmt.Errorf("order %s: %q -> %q: %w", orderID, o.RawStatus, to, apperr.ErrInvalid))
	}
	if to == orders.StatusReadyForPickup && (a == nil || a.Login == "") {
		return Transition{}, s.reject("no_driver", fmt.Errorf("order %s: %w", orderID, apperr.ErrNoDriver))
	}
	if to != orders.StatusReadyForPickup && a != nil {
		return Transition{}, s.reject("invalid", fmt.Errorf("order %s: assignment only allowed for pickup: %w", orderID, apperr.ErrInvalid))
	}

	at := s.now()
	stamp := orders.FormatTime(at)
	fields := map[string]any{
		orders.FieldStatus:          string(to),
		orders.FieldStatusUpdatedAt: stamp,
		orders.FieldLastUpdated:     stamp,
	}
	if a != nil {
		fields[orders.FieldPartnerID] = a.Login
		fields[orders.FieldPartnerName] = a.Name
		fields[orders.FieldPartnerPhone] = a.Phone
	}

	path := feed.Join("orders", orderID)
	if s.cond != nil {
		ok, err := s.cond.UpdateIf(ctx, path, feed.WhenEquals(orders.FieldStatus, o.RawStatus), fields)
		if err != nil {
			return Transition{}, fmt.Errorf("write status of order %s: %w", orderID, err)
		}
		if !ok {
			return Transition{}, s.reject("stale", fmt.Errorf("order %s changed since %q was observed: %w", orderID, o.RawStatus, apperr.ErrConflict))
		}
	} else if err := s.store.Update(ctx, path, fields); err != nil {
		return Transition{}, fmt.Errorf("write status of order %s: %w", orderID, err)
	}

	tr := Transition{OrderID: orderID, From: o.Status, To: to, At: at, Assignment: a}
	s.metrics.Transitions.WithLabelValues(string(to)).Inc()
	s.log.Info("order status changed",
		logx.String("order_id", orderID),
		logx.String("from", o.RawStatus),
		logx.String("to", string(to)),
	)
	s.publish(ctx, o, tr)
	return tr, nil
}

func (s *Service) current(orderID string) (orders.Order, error) {
	o, ok := s.view.Order(orderID)
	if !ok {
		return orders.Order{}, s.reject("not_found", fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound))
	}
	if o.Status.Terminal() {
		return orders.Order{}, s.reject("terminal", fmt.Errorf("order %s is %s: %w", orderID, o.Status, apperr.ErrTerminal))
	}
	return o, nil
}

func (s *Service) reject(reason string, err error) error {
	s.metrics.TransitionsRejected.WithLabelValues(reason).Inc()
	s.log.Debug("transition rejected", logx.String("reason", reason), logx.Err(err))
	return err
}

func (s *Service) publish(ctx context.Context, o orders.Order, tr Transition) {
	s.emit(ctx, orders.TopicStatusChanged, orders.EventOrderStatusChanged, tr, orders.StatusChangedPayload{
		OrderID: tr.OrderID,
		From:    o.RawStatus,
		To:      string(tr.To),
		At:      orders.FormatTime(tr.At),
	})
	if tr.Assignment != nil {
		s.emit(ctx, orders.TopicStatusChanged, orders.EventDriverAssigned, tr, orders.DriverAssignedPayload{
			OrderID: tr.OrderID,
			LoginID: tr.Assignment.Login,
			Name:    tr.Assignment.Name,
		})
	}
}

func (s *Service) emit(ctx context.Context, topic, eventType string, tr Transition, payload any) {
	env, err := orders.NewEnvelope(eventType, s.producer, tr.OrderID, tr.At, payload)
	if err == nil {
		err = s.pub.Publish(ctx, topic, env)
	}
	if err != nil {
		s.log.Warn("publish event failed", logx.String("event_type", eventType), logx.String("order_id", tr.OrderID), logx.Err(err))
	}
}
