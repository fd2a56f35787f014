package httpx_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-delivery-console/internal/alerts"
	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/dispatch"
	"github.com/ariefcatur/go-delivery-console/internal/gesture"
	"github.com/ariefcatur/go-delivery-console/internal/httpx"
	"github.com/ariefcatur/go-delivery-console/internal/lifecycle"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

const fixture = `{
	"1000": {"status": "On the Way", "total": "299 - COD", "delivery_partner_id": "D7", "delivery_partner_name": "Dev",
		"items": {"item1": {"productId": "p1", "quantity": 2}}, "stock_reduced": true},
	"1001": {"status": "Packing Order", "total": "1,299.50 - UPI"},
	"0999": {"status": "Delivered"}
}`

const staff = `{
	"e7": {"name": "Dev", "phone": "777", "status": "Active", "role": "Delivery Partner", "deliveryUserId": "D7"},
	"e8": {"name": "Ana", "status": "Active", "role": "Delivery Partner", "deliveryUserId": "D8"},
	"e9": {"name": "Oli", "status": "Offline", "role": "Delivery Partner", "deliveryUserId": "D9"}
}`

type stubView struct {
	orders  map[string]orders.Order
	drivers map[string]orders.Driver
}

func newView(t *testing.T) stubView {
	t.Helper()
	list, err := orders.DecodeOrders([]byte(fixture), nil)
	require.NoError(t, err)
	ds, err := orders.DecodeDrivers([]byte(staff), nil)
	require.NoError(t, err)
	return stubView{orders: list, drivers: ds}
}

func (v stubView) List() []orders.Order {
	out := make([]orders.Order, 0, len(v.orders))
	for _, o := range v.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (v stubView) Order(id string) (orders.Order, bool) {
	o, ok := v.orders[id]
	return o, ok
}

func (v stubView) Directory() *dispatch.Directory { return dispatch.NewDirectory(v.orders, v.drivers) }

type stubLifecycle struct {
	err   error
	calls []string
}

func (s *stubLifecycle) result(op, id string) (lifecycle.Transition, error) {
	s.calls = append(s.calls, op+":"+id)
	if s.err != nil {
		return lifecycle.Transition{}, s.err
	}
	return lifecycle.Transition{OrderID: id, From: orders.StatusPacking, To: orders.StatusReadyForPickup, At: time.Unix(0, 0).UTC()}, nil
}

func (s *stubLifecycle) Advance(_ context.Context, id string, req lifecycle.AdvanceRequest) (lifecycle.Transition, error) {
	return s.result("advance/"+req.DriverKey, id)
}

func (s *stubLifecycle) Assign(_ context.Context, id, driverKey string) (lifecycle.Transition, error) {
	tr, err := s.result("assign/"+driverKey, id)
	if err == nil {
		tr.Assignment = &dispatch.Assignment{Login: "D8", Name: "Ana"}
	}
	return tr, err
}

func (s *stubLifecycle) Cancel(_ context.Context, id string) (lifecycle.Transition, error) {
	return s.result("cancel", id)
}

type advances struct {
	mu  sync.Mutex
	ids []string
}

func (a *advances) Advance(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
	return nil
}

type fixtureServer struct {
	url   string
	life  *stubLifecycle
	adv   *advances
	inbox *alerts.Inbox
	gate  *alerts.Gate
	hub   *httpx.Hub
}

func newServer(t *testing.T) *fixtureServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	view := newView(t)

	f := &fixtureServer{
		life:  &stubLifecycle{},
		adv:   &advances{},
		inbox: alerts.NewInbox(),
		gate:  alerts.NewGate(""),
		hub:   httpx.NewHub(m, nil),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go f.hub.Run(ctx)

	router := httpx.NewRouter(m, reg, nil, f.hub,
		&httpx.OrdersHandler{View: view, Lifecycle: f.life},
		&httpx.DriversHandler{View: view, Sliders: gesture.NewPool(view.Directory(), f.adv, gesture.DefaultGeometry, 0.8, nil)},
		&httpx.NotificationsHandler{Inbox: f.inbox, Gate: f.gate},
	)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	f.url = srv.URL
	return f
}

func (f *fixtureServer) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.url+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()
	f := newServer(t)

	code, body := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	f.do(t, http.MethodGet, "/orders/1000", "")
	code, body = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `http_requests_total{method="GET",path="/orders/{id}",status="200"} 1`)
}

func TestListOrders_NewestFirst(t *testing.T) {
	t.Parallel()
	f := newServer(t)

	code, body := f.do(t, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, code)

	var list []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Next   string `json:"next"`
		Total  struct {
			Amount string `json:"amount"`
			Method string `json:"method"`
		} `json:"total"`
		Partner *struct {
			ID string `json:"id"`
		} `json:"deliveryPartner"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 3)
	require.Equal(t, []string{"1001", "1000", "0999"}, []string{list[0].ID, list[1].ID, list[2].ID})
	require.Equal(t, "1299.50", list[0].Total.Amount)
	require.Equal(t, "UPI", list[0].Total.Method)
	require.Equal(t, "Ready for Pickup", list[0].Next)
	require.Equal(t, "D7", list[1].Partner.ID)
	require.Empty(t, list[2].Next)

	code, _ = f.do(t, http.MethodGet, "/orders/4242", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestTransitions_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: http.StatusOK},
		{err: fmt.Errorf("order 1000: %w", apperr.ErrNotFound), want: http.StatusNotFound},
		{err: fmt.Errorf("order 1000: %w", apperr.ErrTerminal), want: http.StatusConflict},
		{err: fmt.Errorf("order 1000: %w", apperr.ErrConflict), want: http.StatusConflict},
		{err: fmt.Errorf("order 1000: %w", apperr.ErrNoDriver), want: http.StatusUnprocessableEntity},
		{err: fmt.Errorf("driver e3: %w", apperr.ErrNoLoginIdentity), want: http.StatusUnprocessableEntity},
		{err: fmt.Errorf("order 1000: %w", apperr.ErrInvalid), want: http.StatusBadRequest},
		{err: fmt.Errorf("feed down"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := newServer(t)
		f.life.err = tt.err
		code, _ := f.do(t, http.MethodPost, "/orders/1000/advance", "")
		require.Equal(t, tt.want, code, "err=%v", tt.err)
	}
}

func TestTransitions_Requests(t *testing.T) {
	t.Parallel()
	f := newServer(t)

	code, _ := f.do(t, http.MethodPost, "/orders/1001/advance", `{"driverKey":"e8"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodPost, "/orders/1001/assign", `{"driverKey":"e8"}`)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"deliveryPartner":{"id":"D8","name":"Ana"}`)

	code, _ = f.do(t, http.MethodPost, "/orders/1001/assign", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = f.do(t, http.MethodPost, "/orders/1001/assign", `{"driver":"e8"}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/orders/1001/cancel", "")
	require.Equal(t, http.StatusOK, code)

	require.Equal(t, []string{"advance/e8:1001", "assign/e8:1001", "cancel:1001"}, f.life.calls)
}

func TestDrivers_BoardAndSlide(t *testing.T) {
	t.Parallel()
	f := newServer(t)

	code, body := f.do(t, http.MethodGet, "/drivers", "")
	require.Equal(t, http.StatusOK, code)
	var board map[string][]struct {
		Login        string `json:"login"`
		CurrentOrder string `json:"currentOrder"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &board))
	require.Len(t, board["outForDelivery"], 1)
	require.Equal(t, "1000", board["outForDelivery"][0].CurrentOrder)
	require.Len(t, board["available"], 1)
	require.Equal(t, "D8", board["available"][0].Login)
	require.Len(t, board["offline"], 1)

	code, body = f.do(t, http.MethodPost, "/drivers/D7/slide", `{"displacement": 150}`)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"committed":false`)

	code, body = f.do(t, http.MethodPost, "/drivers/D7/slide", `{"displacement": 900}`)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"committed":true`)
	require.Contains(t, body, `"offset":256`)
	require.Equal(t, []string{"1000"}, f.adv.ids)

	code, _ = f.do(t, http.MethodPost, "/drivers/D8/slide", `{"displacement": 900}`)
	require.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodGet, "/drivers/D404/delivered-today", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestNotifications(t *testing.T) {
	t.Parallel()
	f := newServer(t)
	f.inbox.Add(alerts.Notification{ID: "n1", Title: "New order", Type: alerts.TypeOrder})
	f.inbox.Add(alerts.Notification{ID: "n2", Title: "Low stock", Type: alerts.TypeStock})

	code, body := f.do(t, http.MethodGet, "/notifications", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"unread":2`)

	code, _ = f.do(t, http.MethodPost, "/notifications/n1/read", "")
	require.Equal(t, http.StatusNoContent, code)
	require.Equal(t, 1, f.inbox.Unread())

	code, _ = f.do(t, http.MethodPost, "/notifications/nope/read", "")
	require.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/notifications/read-all", "")
	require.Equal(t, http.StatusNoContent, code)
	require.Zero(t, f.inbox.Unread())

	code, body = f.do(t, http.MethodPut, "/session/screen", `{"screen":"landing"}`)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"surfacing":false`)
	require.False(t, f.gate.Surfacing())
}

func TestHub_PushesSurfaces(t *testing.T) {
	t.Parallel()
	f := newServer(t)

	wsURL := "ws" + strings.TrimPrefix(f.url, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, f.hub.Toast(ctx, alerts.Notification{ID: "n1", Title: "New order", Type: alerts.TypeOrder}))
	require.NoError(t, f.hub.Play(ctx, alerts.ToneFor(alerts.TypeOrder)))
	require.NoError(t, f.hub.Vibrate(ctx, alerts.PulseFor(alerts.TypeStock)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []httpx.Message
	for range 3 {
		var m struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&m))
		got = append(got, httpx.Message{Type: m.Type, Data: string(m.Data)})
	}
	require.Equal(t, httpx.KindToast, got[0].Type)
	require.Contains(t, got[0].Data, `"title":"New order"`)
	require.Equal(t, httpx.KindTone, got[1].Type)
	require.Contains(t, got[1].Data, `"frequencyHz":880`)
	require.Equal(t, httpx.KindHaptic, got[2].Type)
	require.Equal(t, `{"patternMs":[400]}`, got[2].Data)
}

func TestHub_LandingConsolesAreSkipped(t *testing.T) {
	t.Parallel()
	f := newServer(t)
	ctx := context.Background()

	wsURL := "ws" + strings.TrimPrefix(f.url, "http") + "/ws"
	active, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer active.Close()
	idle, resp2, err := websocket.DefaultDialer.Dial(wsURL+"?screen=landing", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	defer idle.Close()
	require.Eventually(t, func() bool { return f.hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, f.hub.Surfacing())

	readTitle := func(conn *websocket.Conn) string {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m struct {
			Data alerts.Notification `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&m))
		return m.Data.Title
	}

	require.NoError(t, f.hub.Toast(ctx, alerts.Notification{ID: "n1", Title: "first"}))
	require.Equal(t, "first", readTitle(active))

	// the idle console logs in, then the active one goes back to landing
	require.NoError(t, idle.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, idle.WriteJSON(map[string]string{"screen": "orders"}))
	require.Eventually(t, func() bool { return f.hub.Surfacing() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, active.WriteJSON(map[string]string{"screen": alerts.ScreenLanding}))
	require.Eventually(t, func() bool { return f.hub.Surfacing() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, f.hub.Clients())

	require.NoError(t, f.hub.Toast(ctx, alerts.Notification{ID: "n2", Title: "second"}))
	require.Equal(t, "second", readTitle(idle))

	_ = active.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = active.ReadMessage()
	require.Error(t, err)
}
