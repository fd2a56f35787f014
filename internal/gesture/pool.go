package gesture

import (
	"sync"

	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// Carriers finds the order a driver is currently carrying.
type Carriers interface {
	CurrentOrder(login string) (orders.Order, bool)
}

// Pool keeps one controller per driver login.
type Pool struct {
	mu       sync.Mutex
	carriers Carriers
	adv      Advancer
	geo      Geometry
	ratio    float64
	log      logx.Logger
	ctrls    map[string]*Controller
}

func NewPool(carriers Carriers, adv Advancer, geo Geometry, ratio float64, log logx.Logger) *Pool {
	return &Pool{
		carriers: carriers,
		adv:      adv,
		geo:      geo,
		ratio:    ratio,
		log:      log,
		ctrls:    map[string]*Controller{},
	}
}

// For returns login's controller bound to the order the driver carries now.
// A driver with no active order gets an unbound, disabled controller.
func (p *Pool) For(login string) *Controller {
	p.mu.Lock()
	c, ok := p.ctrls[login]
	if !ok {
		c = NewController(p.adv, p.geo, p.ratio, p.log)
		p.ctrls[login] = c
	}
	p.mu.Unlock()

	if o, ok := p.carriers.CurrentOrder(login); ok {
		c.Bind(o.ID, o.Status)
	} else {
		c.Bind("", "")
	}
	return c
}
