package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-delivery-console/internal/feed"
)

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed value")
	}
	var zero T
	return zero
}

func quiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_SubscribeDeliversInitialAndChanges(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := feed.NewMemory()
	require.NoError(t, m.Seed(`{"products":{"p1":{"quantity":10}}}`))

	ch, err := m.Subscribe(ctx, "products")
	require.NoError(t, err)
	first := next(t, ch)
	require.True(t, first.Exists)
	require.JSONEq(t, `{"p1":{"quantity":10}}`, string(first.Value))

	require.NoError(t, m.Update(ctx, "products/p1", map[string]any{"quantity": feed.Increment(-3)}))
	require.JSONEq(t, `{"p1":{"quantity":7}}`, string(next(t, ch).Value))

	// writes elsewhere are not delivered
	require.NoError(t, m.Update(ctx, "orders/o1", map[string]any{"status": "Order Placed"}))
	quiet(t, ch)

	// a write that leaves the value unchanged is not delivered either
	require.NoError(t, m.Update(ctx, "products/p1", map[string]any{"quantity": 7}))
	quiet(t, ch)
}

func TestMemory_MultiPathUpdateIsOneChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := feed.NewMemory()
	require.NoError(t, m.Seed(`{"products":{"p1":{"quantity":10},"p2":{"variants":{"L":{"quantity":"4"}}}},"orders":{"o1":{"status":"Order Placed"}}}`))

	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := m.Subscribe(sub, "")
	require.NoError(t, err)
	next(t, ch)

	require.NoError(t, m.Update(ctx, "", map[string]any{
		"products/p1/quantity":            feed.Increment(-2),
		"products/p2/variants/L/quantity": feed.Increment(-1),
		"products/p3/quantity":            feed.Increment(-1),
		"orders/o1/stock_reduced":         true,
	}))
	snap := next(t, ch)
	require.JSONEq(t, `{
		"products":{"p1":{"quantity":8},"p2":{"variants":{"L":{"quantity":3}}},"p3":{"quantity":-1}},
		"orders":{"o1":{"status":"Order Placed","stock_reduced":true}}
	}`, string(snap.Value))
	quiet(t, ch)
	require.Equal(t, 1, m.Writes())
}

func TestMemory_NilDeletesAndPrunes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := feed.NewMemory()
	require.NoError(t, m.Update(ctx, "orders/o1", map[string]any{"status": "Order Placed"}))
	require.NoError(t, m.Update(ctx, "orders/o1", map[string]any{"status": nil}))

	snap, err := m.Get(ctx, "orders")
	require.NoError(t, err)
	require.False(t, snap.Exists)
	require.Equal(t, "null", string(snap.Value))

	require.NoError(t, m.Update(ctx, "orders/o2", map[string]any{"status": "Delivered"}))
	require.NoError(t, m.Remove(ctx, "orders/o2"))
	snap, err = m.Get(ctx, "orders/o2")
	require.NoError(t, err)
	require.False(t, snap.Exists)
}

func TestMemory_UpdateIf(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := feed.NewMemory()
	require.NoError(t, m.Seed(`{"orders":{"o1":{"status":"Packing Order"}}}`))

	ok, err := m.UpdateIf(ctx, "", feed.WhenFalsy("orders/o1/stock_reduced"), map[string]any{"orders/o1/stock_reduced": true})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.UpdateIf(ctx, "", feed.WhenFalsy("orders/o1/stock_reduced"), map[string]any{"orders/o1/stock_reduced": true})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.UpdateIf(ctx, "orders/o1", feed.WhenEquals("status", "Ready for Pickup"), map[string]any{"status": "On the Way"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.UpdateIf(ctx, "orders/o1", feed.WhenEquals("status", "Packing Order"), map[string]any{"status": "Ready for Pickup"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.UpdateIf(ctx, "orders/o1", feed.WhenTruthy("stock_reduced"), map[string]any{"stock_reduced": false})
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 3, m.Writes())
	snap, err := m.Get(ctx, "orders/o1")
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"Ready for Pickup","stock_reduced":false}`, string(snap.Value))
}

func TestMemory_SubscribeAdded(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := feed.NewMemory()
	require.NoError(t, m.Seed(`{"messages":{
		"m1":{"title":"old","timestamp":"2026-10-18T09:00:00Z"},
		"m2":{"title":"today","timestamp":"2026-10-19T09:00:00Z"}
	}}`))

	ch, err := m.SubscribeAdded(ctx, "messages", feed.AddedOptions{OrderBy: "timestamp", StartAt: "2026-10-19"})
	require.NoError(t, err)
	require.Equal(t, "m2", next(t, ch).Key)
	quiet(t, ch)

	require.NoError(t, m.Update(ctx, "messages/m3", map[string]any{"title": "new", "timestamp": "2026-10-19T10:00:00Z"}))
	c := next(t, ch)
	require.Equal(t, "m3", c.Key)
	require.JSONEq(t, `{"title":"new","timestamp":"2026-10-19T10:00:00Z"}`, string(c.Value))

	// edits to a known child are not additions
	require.NoError(t, m.Update(ctx, "messages/m3", map[string]any{"title": "edited"}))
	quiet(t, ch)
}

func TestMemory_ChannelClosesOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	m := feed.NewMemory()
	ch, err := m.Subscribe(ctx, "orders")
	require.NoError(t, err)
	next(t, ch)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	_, err = m.Subscribe(ctx, "orders")
	require.ErrorIs(t, err, context.Canceled)
}

func TestGuardAndTruthy(t *testing.T) {
	t.Parallel()

	for _, v := range []any{nil, false, 0.0, "", "false", "0"} {
		require.Falsef(t, feed.Truthy(v), "%#v", v)
	}
	for _, v := range []any{true, 1.0, "true", "yes", map[string]any{}} {
		require.Truef(t, feed.Truthy(v), "%#v", v)
	}
	require.True(t, feed.WhenFalsy("x").Holds(nil, false))
	require.False(t, feed.WhenTruthy("x").Holds(true, false))
	require.True(t, feed.WhenEquals("x", "Arrival").Holds("Arrival", true))
	require.False(t, feed.WhenEquals("x", "Arrival").Holds(map[string]any{"a": 1.0}, true))

	require.Equal(t, []string{"orders", "o1", "status"}, feed.Split("/orders//o1/status/"))
	require.Equal(t, "orders/o1/status", feed.Join("orders/", "o1", "/status"))
}

func TestDiffAdded_ForgetsRemovedChildren(t *testing.T) {
	t.Parallel()

	known := map[string]bool{}
	got := feed.DiffAdded(known, map[string]any{"b": 1.0, "a": 2.0}, feed.AddedOptions{})
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Key)

	require.Empty(t, feed.DiffAdded(known, map[string]any{"a": 2.0}, feed.AddedOptions{}))
	got = feed.DiffAdded(known, map[string]any{"a": 2.0, "b": 3.0}, feed.AddedOptions{})
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].Key)
	require.Equal(t, "3", string(got[0].Value))
}
