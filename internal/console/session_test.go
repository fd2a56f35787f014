package console_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-delivery-console/internal/alerts"
	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/console"
	"github.com/ariefcatur/go-delivery-console/internal/feed"
	"github.com/ariefcatur/go-delivery-console/internal/gesture"
	"github.com/ariefcatur/go-delivery-console/internal/inventory"
	"github.com/ariefcatur/go-delivery-console/internal/lifecycle"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
	logtest "github.com/ariefcatur/go-delivery-console/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	store   *feed.Memory
	session *console.Session
	svc     *lifecycle.Service
	pool    *gesture.Pool
	metrics *metrics.Set
	logs    *logtest.Recorder

	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
	stopErr  error
}

func start(t *testing.T, store *feed.Memory) *harness {
	t.Helper()
	h := &harness{
		store:   store,
		metrics: metrics.NewUnregistered(),
		logs:    logtest.NewRecorder(),
		done:    make(chan error, 1),
	}
	log := h.logs.Logger()
	inv := inventory.NewEngine(store, inventory.NewClaims(), inventory.Options{
		Mode:     inventory.Guarded,
		Producer: "console-test",
		Metrics:  h.metrics,
		Logger:   log,
	})
	al := alerts.NewEngine(alerts.NewSeen(), alerts.NewStockTracker(5), alerts.NewInbox(), alerts.Options{
		Metrics: h.metrics,
		Logger:  log,
	})
	h.session = console.NewSession(store, inv, al, console.Options{Metrics: h.metrics, Logger: log})
	h.svc = lifecycle.NewService(store, h.session, lifecycle.Options{Metrics: h.metrics, Logger: log})
	h.pool = gesture.NewPool(h.session, gesture.AdvancerFunc(func(ctx context.Context, id string) error {
		_, err := h.svc.Advance(ctx, id, lifecycle.AdvanceRequest{})
		return err
	}), gesture.DefaultGeometry, gesture.DefaultCommitRatio, log)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.session.Run(ctx) }()
	t.Cleanup(func() { require.NoError(t, h.stop()) })

	select {
	case <-h.session.Ready():
	case err := <-h.done:
		t.Fatalf("session stopped before ready: %v", err)
	case <-time.After(waitFor):
		t.Fatal("session not ready")
	}
	return h
}

// stop cancels the session and waits for its in-flight writes.
func (h *harness) stop() error {
	h.stopOnce.Do(func() {
		h.cancel()
		h.stopErr = <-h.done
	})
	return h.stopErr
}

func (h *harness) waitStatus(t *testing.T, id string, want orders.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		o, ok := h.session.Order(id)
		return ok && o.Status == want
	}, waitFor, tick, "order %s never reached %q", id, want)
}

func (h *harness) slide(t *testing.T, login string) {
	t.Helper()
	c := h.pool.For(login)
	require.True(t, c.Enabled())
	c.Drag(0.9 * gesture.DefaultGeometry.MaxTravel())
	committed, err := c.Release(context.Background())
	require.NoError(t, err)
	require.True(t, committed)
}

func (h *harness) deductions() float64 {
	return testutil.ToFloat64(h.metrics.StockAdjustments.WithLabelValues("deduct", string(inventory.Guarded)))
}

func newStore(t *testing.T, doc string) *feed.Memory {
	t.Helper()
	m := feed.NewMemory()
	require.NoError(t, m.Seed(doc))
	return m
}

func quantity(t *testing.T, s feed.Store, path string) float64 {
	t.Helper()
	snap, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	var q float64
	require.NoError(t, json.Unmarshal(snap.Value, &q))
	return q
}

const shop = `{
	"products": {
		"p1": {"name": "Tee", "quantity": 6},
		"p2": {"name": "Cap", "variants": {"L": {"quantity": 4}}}
	},
	"employees": {
		"e7": {"name": "Dev", "phone": "777", "status": "Active", "role": "Delivery Partner", "deliveryUserId": "D7"},
		"e8": {"name": "Ops", "status": "Active", "role": "Store Manager"}
	},
	"orders": {}
}`

func TestSession_OrderToDoorstep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := start(t, newStore(t, shop))

	require.NoError(t, h.store.Update(ctx, "orders/1000", map[string]any{
		"status": "Order Placed",
		"total":  "299 - COD",
		"items": map[string]any{
			"item1": map[string]any{"productId": "p1", "quantity": 2},
			"item2": map[string]any{"productId": "p2", "variant": "L"},
		},
	}))

	require.Eventually(t, func() bool {
		o, ok := h.session.Order("1000")
		return ok && o.StockReduced
	}, waitFor, tick)
	require.Equal(t, 4.0, quantity(t, h.store, "products/p1/quantity"))
	require.Equal(t, 3.0, quantity(t, h.store, "products/p2/variants/L/quantity"))

	_, err := h.svc.Advance(ctx, "1000", lifecycle.AdvanceRequest{})
	require.NoError(t, err)
	h.waitStatus(t, "1000", orders.StatusAccepted)

	_, err = h.svc.Advance(ctx, "1000", lifecycle.AdvanceRequest{})
	require.NoError(t, err)
	h.waitStatus(t, "1000", orders.StatusPacking)

	_, err = h.svc.Advance(ctx, "1000", lifecycle.AdvanceRequest{})
	require.ErrorIs(t, err, apperr.ErrNoDriver)

	tr, err := h.svc.Assign(ctx, "1000", "e7")
	require.NoError(t, err)
	require.Equal(t, "D7", tr.Assignment.Login)
	h.waitStatus(t, "1000", orders.StatusReadyForPickup)
	o, _ := h.session.Order("1000")
	require.Equal(t, "Dev", o.PartnerName)
	require.Equal(t, "777", o.PartnerPhone)

	// pickup confirmed by the driver, then two slides to the door
	_, err = h.svc.Advance(ctx, "1000", lifecycle.AdvanceRequest{})
	require.NoError(t, err)
	h.waitStatus(t, "1000", orders.StatusOnTheWay)

	h.slide(t, "D7")
	h.waitStatus(t, "1000", orders.StatusArrival)
	h.slide(t, "D7")
	h.waitStatus(t, "1000", orders.StatusDelivered)

	_, err = h.svc.Advance(ctx, "1000", lifecycle.AdvanceRequest{})
	require.ErrorIs(t, err, apperr.ErrTerminal)
	_, err = h.svc.Cancel(ctx, "1000")
	require.ErrorIs(t, err, apperr.ErrTerminal)
	require.False(t, h.pool.For("D7").Enabled())

	require.NoError(t, h.stop())
	require.Equal(t, 1.0, h.deductions())
	require.Equal(t, 4.0, quantity(t, h.store, "products/p1/quantity"))
	require.Equal(t, 3.0, quantity(t, h.store, "products/p2/variants/L/quantity"))
	require.Zero(t, testutil.ToFloat64(h.metrics.OutOfBandTransitions))

	var kinds []string
	for _, n := range h.session.Alerts().Inbox().List() {
		kinds = append(kinds, n.Type)
	}
	require.ElementsMatch(t, []string{alerts.TypeOrder, alerts.TypeStock, alerts.TypeDelivery}, kinds)
	require.Equal(t, alerts.TypeDelivery, kinds[0])

	delivered := h.session.Directory().DeliveredToday("D7", time.Now())
	require.Len(t, delivered, 1)
}

func TestSession_InitialSnapshotReconciledWithoutAlerts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := start(t, newStore(t, `{
		"products": {"p1": {"name": "Tee", "quantity": 10}},
		"orders": {
			"3000": {"status": "Accepted by Store", "stock_reduced": true, "items": ["p1"]},
			"3001": {"status": "Order Placed", "items": {"item1": {"productId": "p1", "quantity": 3}}}
		}
	}`))

	require.Eventually(t, func() bool {
		o, _ := h.session.Order("3001")
		return o.StockReduced
	}, waitFor, tick)
	require.Equal(t, 7.0, quantity(t, h.store, "products/p1/quantity"))

	_, err := h.svc.Cancel(ctx, "3000")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		o, _ := h.session.Order("3000")
		return o.Status == orders.StatusCancelled && !o.StockReduced
	}, waitFor, tick)

	require.NoError(t, h.stop())
	require.Equal(t, 8.0, quantity(t, h.store, "products/p1/quantity"))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StockAdjustments.WithLabelValues("restore", string(inventory.Guarded))))
	require.Empty(t, h.session.Alerts().Inbox().List())
}

func TestSession_TwoConsolesDeductOnce(t *testing.T) {
	t.Parallel()
	store := newStore(t, `{
		"products": {"p1": {"name": "Tee", "quantity": 10}},
		"orders": {"4000": {"status": "Order Placed", "items": {"item1": {"productId": "p1", "quantity": 2}}}}
	}`)
	a := start(t, store)
	b := start(t, store)

	require.Eventually(t, func() bool {
		o, _ := a.session.Order("4000")
		return o.StockReduced
	}, waitFor, tick)
	require.NoError(t, a.stop())
	require.NoError(t, b.stop())

	require.Equal(t, 8.0, quantity(t, store, "products/p1/quantity"))
	require.Equal(t, 1.0, a.deductions()+b.deductions())
}

func TestSession_FlagsOutOfBandTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := start(t, newStore(t, `{
		"orders": {
			"2000": {"status": "Packing Order", "stock_reduced": true},
			"2001": {"status": "Order Placed", "stock_reduced": true}
		}
	}`))

	require.NoError(t, h.store.Update(ctx, "orders/2001", map[string]any{"status": "Accepted by Store"}))
	h.waitStatus(t, "2001", orders.StatusAccepted)
	require.NoError(t, h.store.Update(ctx, "orders/2000", map[string]any{"status": "Delivered"}))
	h.waitStatus(t, "2000", orders.StatusDelivered)

	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OutOfBandTransitions))
	require.Equal(t, 1, h.logs.Count("warn", "out-of-band status transition"))
}

func TestSession_AnnouncesNewBroadcastsOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := start(t, newStore(t, `{
		"messages": {"m0": {"title": "Old", "message": "yesterday's news", "timestamp": "2020-01-01T00:00:00Z"}}
	}`))

	require.NoError(t, h.store.Update(ctx, "messages/m1", map[string]any{
		"title":     "Heads up",
		"message":   "Rain expected after 6pm",
		"timestamp": orders.FormatTime(time.Now().Add(time.Minute)),
	}))

	inbox := h.session.Alerts().Inbox()
	require.Eventually(t, func() bool { return len(inbox.List()) == 1 }, waitFor, tick)
	n := inbox.List()[0]
	require.Equal(t, alerts.TypeInfo, n.Type)
	require.Equal(t, "Heads up", n.Title)
	require.Empty(t, n.Route)
}

func TestSession_ListsNewestFirst(t *testing.T) {
	t.Parallel()
	h := start(t, newStore(t, `{
		"orders": {
			"1001": {"status": "Delivered"},
			"1003": {"status": "Cancelled"},
			"1002": {"status": "Delivered"}
		}
	}`))

	var ids []string
	for _, o := range h.session.List() {
		ids = append(ids, o.ID)
	}
	require.Equal(t, []string{"1003", "1002", "1001"}, ids)
}
