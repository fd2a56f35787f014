// Package gesture implements the driver's slide-to-advance control. It never
// writes to the store; a committed slide calls the lifecycle Advance.
package gesture

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// DefaultCommitRatio is the share of max travel a release must reach.
const DefaultCommitRatio = 0.8

type Advancer interface {
	Advance(ctx context.Context, orderID string) error
}

// AdvancerFunc adapts a function to Advancer.
type AdvancerFunc func(ctx context.Context, orderID string) error

func (f AdvancerFunc) Advance(ctx context.Context, orderID string) error { return f(ctx, orderID) }

// Geometry is the slider layout in device pixels.
type Geometry struct {
	Track   float64
	Handle  float64
	Padding float64
}

var DefaultGeometry = Geometry{Track: 320, Handle: 56, Padding: 8}

// MaxTravel is how far the handle can move from rest.
func (g Geometry) MaxTravel() float64 {
	if m := g.Track - g.Handle - g.Padding; m > 0 {
		return m
	}
	return 0
}

type Controller struct {
	mu      sync.Mutex
	adv     Advancer
	geo     Geometry
	ratio   float64
	orderID string
	status  orders.Status
	offset  float64
	busy    bool
	log     logx.Logger
}

func NewController(adv Advancer, geo Geometry, ratio float64, log logx.Logger) *Controller {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultCommitRatio
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Controller{adv: adv, geo: geo, ratio: ratio, log: log.With(logx.String("component", "gesture"))}
}

// Bind points the control at the driver's current order and puts the
// handle back at rest.
func (c *Controller) Bind(orderID string, status orders.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderID, c.status, c.offset = orderID, status, 0
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled()
}

func (c *Controller) enabled() bool {
	if c.orderID == "" || c.busy || c.geo.MaxTravel() == 0 {
		return false
	}
	_, ok := orders.Next(c.status)
	return ok
}

// Drag moves the handle to displacement from rest, clamped to the track.
// It returns the applied offset.
func (c *Controller) Drag(displacement float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled() {
		return c.offset
	}
	switch limit := c.geo.MaxTravel(); {
	case displacement < 0:
		c.offset = 0
	case displacement > limit:
		c.offset = limit
	default:
		c.offset = displacement
	}
	return c.offset
}

func (c *Controller) Offset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Release ends the drag. Past the commit threshold it advances the bound
// order once; either way the handle returns to rest.
func (c *Controller) Release(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.enabled() {
		c.offset = 0
		c.mu.Unlock()
		return false, nil
	}
	commit := c.offset >= c.ratio*c.geo.MaxTravel()
	c.offset = 0
	if !commit {
		c.mu.Unlock()
		return false, nil
	}
	c.busy = true
	orderID := c.orderID
	c.mu.Unlock()

	err := c.adv.Advance(ctx, orderID)

	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("slide advance failed", logx.String("order_id", orderID), logx.Err(err))
		return true, err
	}
	return true, nil
}
