package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/feed"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// Mode selects how the stock write is protected against other consoles.
type Mode string

const (
	// Guarded writes only while stock_reduced still holds the value the
	// obligation was derived from. Needs a feed.Conditional store.
	Guarded Mode = "guarded"
	// Optimistic writes unconditionally. Two consoles reacting to the same
	// snapshot can both deduct.
	Optimistic Mode = "optimistic"
)

// Skip reasons reported in Result.Reason.
const (
	ReasonNone      = "no_obligation"
	ReasonClaimed   = "claimed"
	ReasonStale     = "stale"
	ReasonIntegrity = "integrity"
)

type Result struct {
	OrderID    string
	Obligation Obligation
	Applied    bool
	Reason     string // set when not applied
}

type Options struct {
	Mode      Mode
	Producer  string // console id stamped on published envelopes
	Publisher orders.Publisher
	Metrics   *metrics.Set
	Logger    logx.Logger
	Now       func() time.Time
}

// Engine keeps product stock in line with order state: deduct once when an
// order enters the flow, restore once when a deducted order is cancelled.
type Engine struct {
	store    feed.Store
	cond     feed.Conditional
	claims   *Claims
	mode     Mode
	producer string
	pub      orders.Publisher
	metrics  *metrics.Set
	log      logx.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

func NewEngine(store feed.Store, claims *Claims, opts Options) *Engine {
	e := &Engine{
		store:    store,
		claims:   claims,
		mode:     opts.Mode,
		producer: opts.Producer,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if e.claims == nil {
		e.claims = NewClaims()
	}
	if e.mode == "" {
		e.mode = Guarded
	}
	if e.pub == nil {
		e.pub = orders.NopPublisher{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NewUnregistered()
	}
	if e.log == nil {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("component", "inventory"))
	if e.now == nil {
		e.now = time.Now
	}
	if e.mode == Guarded {
		if c, ok := store.(feed.Conditional); ok {
			e.cond = c
		} else {
			e.log.Warn("store has no conditional writes, falling back to optimistic reconciliation")
			e.mode = Optimistic
		}
	}
	return e
}

func (e *Engine) Mode() Mode { return e.mode }

// Reconcile evaluates every order of an observed snapshot and starts one
// asynchronous write per order that owes an adjustment and is not already
// claimed. It does not wait for the writes.
func (e *Engine) Reconcile(ctx context.Context, view map[string]orders.Order) {
	ids := make([]string, 0, len(view))
	for id := range view {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := view[id]
		ob := ObligationFor(o)
		if ob == None {
			continue
		}
		release, ok := e.claims.TryClaim(o.ID)
		if !ok {
			e.metrics.ReconcileSkipped.WithLabelValues(ReasonClaimed).Inc()
			continue
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer release()
			if _, err := e.adjust(ctx, o, ob); err != nil && ctx.Err() == nil {
				e.log.Error("stock reconciliation failed", logx.String("order_id", o.ID), logx.String("kind", ob.String()), logx.Err(err))
			}
		}()
	}
}

// Apply reconciles one order synchronously under the same claim guard.
func (e *Engine) Apply(ctx context.Context, o orders.Order) (Result, error) {
	ob := ObligationFor(o)
	if ob == None {
		return Result{OrderID: o.ID, Reason: ReasonNone}, nil
	}
	release, ok := e.claims.TryClaim(o.ID)
	if !ok {
		e.metrics.ReconcileSkipped.WithLabelValues(ReasonClaimed).Inc()
		return Result{OrderID: o.ID, Obligation: ob, Reason: ReasonClaimed}, nil
	}
	defer release()
	return e.adjust(ctx, o, ob)
}

// Wait blocks until every write started by Reconcile has settled.
func (e *Engine) Wait() { e.wg.Wait() }

// Resweep re-runs Reconcile on the latest view every interval until ctx is
// done. Obligations are state-derived, so a sweep only retries what an
// earlier failed write left owing.
func (e *Engine) Resweep(ctx context.Context, every time.Duration, latest func() map[string]orders.Order) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Reconcile(ctx, latest())
		}
	}
}

func (e *Engine) adjust(ctx context.Context, o orders.Order, ob Obligation) (Result, error) {
	res := Result{OrderID: o.ID, Obligation: ob}
	sign := -1
	if ob == Restore {
		sign = 1
	}

	deltas := map[string]int{}
	var lines []orders.StockLine
	catalog := map[string]orders.Product{}
	for _, li := range o.Items {
		if li.ProductID == "" {
			e.log.Warn("line item has no product id, stock untouched",
				logx.String("order_id", o.ID), logx.String("item", li.Key))
			continue
		}
		path, variant, err := e.resolve(ctx, catalog, li)
		if err != nil {
			err = fmt.Errorf("%s stock for order %s: %w", ob, o.ID, err)
			if errors.Is(err, apperr.ErrIntegrity) {
				e.metrics.ReconcileSkipped.WithLabelValues(ReasonIntegrity).Inc()
				res.Reason = ReasonIntegrity
				return res, err
			}
			e.metrics.ReconcileErrors.Inc()
			return res, err
		}
		d := sign * li.Quantity
		deltas[path] += d
		lines = append(lines, orders.StockLine{ProductID: li.ProductID, Variant: variant, Delta: d})
	}

	flag := feed.Join("orders", o.ID, orders.FieldStockReduced)
	fields := make(map[string]any, len(deltas)+1)
	for path, d := range deltas {
		fields[path] = feed.Increment(float64(d))
	}
	fields[flag] = ob == Deduct

	applied := true
	var err error
	if e.mode == Guarded {
		g := feed.WhenFalsy(flag)
		if ob == Restore {
			g = feed.WhenTruthy(flag)
		}
		applied, err = e.cond.UpdateIf(ctx, "", g, fields)
	} else {
		err = e.store.Update(ctx, "", fields)
	}
	if err != nil {
		e.metrics.ReconcileErrors.Inc()
		return res, fmt.Errorf("%s stock for order %s: %w", ob, o.ID, err)
	}
	if !applied {
		e.metrics.ReconcileSkipped.WithLabelValues(ReasonStale).Inc()
		e.log.Info("stock witness already moved, skipping", logx.String("order_id", o.ID), logx.String("kind", ob.String()))
		res.Reason = ReasonStale
		return res, nil
	}

	res.Applied = true
	e.metrics.StockAdjustments.WithLabelValues(ob.String(), string(e.mode)).Inc()
	e.log.Info("stock adjusted",
		logx.String("order_id", o.ID),
		logx.String("kind", ob.String()),
		logx.Int("lines", len(lines)),
	)
	e.publish(ctx, o.ID, ob, lines)
	return res, nil
}

// resolve maps a line onto a quantity path that already exists in the
// store. The whole order is held back when any line does not resolve, so
// stock_reduced never covers a line that touched nothing.
func (e *Engine) resolve(ctx context.Context, catalog map[string]orders.Product, li orders.LineItem) (string, string, error) {
	p, ok := catalog[li.ProductID]
	if !ok {
		snap, err := e.store.Get(ctx, feed.Join("products", li.ProductID))
		if err != nil {
			return "", "", fmt.Errorf("read product %s: %w", li.ProductID, err)
		}
		if !snap.Exists {
			return "", "", fmt.Errorf("item %s: product %s not found: %w", li.Key, li.ProductID, apperr.ErrIntegrity)
		}
		if p, err = orders.DecodeProduct(li.ProductID, snap.Value); err != nil {
			return "", "", fmt.Errorf("item %s: %v: %w", li.Key, err, apperr.ErrIntegrity)
		}
		catalog[li.ProductID] = p
	}
	path, ok := p.StockPath(li.Variant)
	if !ok {
		return "", "", fmt.Errorf("item %s: product %s has no variant %q: %w", li.Key, li.ProductID, li.Variant, apperr.ErrIntegrity)
	}
	if len(p.Variants) == 0 {
		return path, "", nil
	}
	return path, li.Variant, nil
}

func (e *Engine) publish(ctx context.Context, orderID string, ob Obligation, lines []orders.StockLine) {
	env, err := orders.NewEnvelope(orders.EventStockAdjusted, e.producer, orderID, e.now(), orders.StockAdjustedPayload{
		OrderID: orderID,
		Kind:    ob.String(),
		Mode:    string(e.mode),
		Lines:   lines,
	})
	if err == nil {
		err = e.pub.Publish(ctx, orders.TopicStockAdjusted, env)
	}
	if err != nil {
		e.log.Warn("publish stock event failed", logx.String("order_id", orderID), logx.Err(err))
	}
}
