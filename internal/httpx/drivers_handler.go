package httpx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/dispatch"
	"github.com/ariefcatur/go-delivery-console/internal/gesture"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// Sliders hands out the slide control of a driver.
type Sliders interface {
	For(login string) *gesture.Controller
}

type DriversHandler struct {
	View    OrderView
	Sliders Sliders
	Now     func() time.Time
}

type driverResp struct {
	Key          string `json:"key"`
	Login        string `json:"login,omitempty"`
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Status       string `json:"status"`
	CurrentOrder string `json:"currentOrder,omitempty"`
}

type boardResp struct {
	OutForDelivery []driverResp `json:"outForDelivery"`
	Online         []driverResp `json:"online"`
	Offline        []driverResp `json:"offline"`
	Available      []driverResp `json:"available"`
}

type slideReq struct {
	Displacement float64 `json:"displacement"`
}

type slideResp struct {
	OrderID   string  `json:"orderId"`
	Offset    float64 `json:"offset"`
	Committed bool    `json:"committed"`
}

func (h *DriversHandler) Register(r chi.Router) {
	r.Get("/drivers", h.board)
	r.Get("/drivers/{login}/delivered-today", h.deliveredToday)
	r.Post("/drivers/{login}/slide", h.slide)
}

func (h *DriversHandler) board(w http.ResponseWriter, r *http.Request) {
	dir := h.View.Directory()
	b := dir.Buckets()
	writeJSON(w, http.StatusOK, boardResp{
		OutForDelivery: toDriverResps(dir, b.OutForDelivery),
		Online:         toDriverResps(dir, b.Online),
		Offline:        toDriverResps(dir, b.Offline),
		Available:      toDriverResps(dir, dir.Available()),
	})
}

func (h *DriversHandler) deliveredToday(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")
	dir := h.View.Directory()
	if _, ok := dir.ByLogin(login); !ok {
		writeErr(w, fmt.Errorf("driver %s: %w", login, apperr.ErrNotFound))
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	list := dir.DeliveredToday(login, now())
	out := make([]orderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// slide applies one complete drag: move to displacement, then release.
func (h *DriversHandler) slide(w http.ResponseWriter, r *http.Request) {
	var req slideReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	login := chi.URLParam(r, "login")
	cur, ok := h.View.Directory().CurrentOrder(login)
	c := h.Sliders.For(login)
	if !ok || !c.Enabled() {
		writeErr(w, fmt.Errorf("driver %s has no order to advance: %w", login, apperr.ErrConflict))
		return
	}
	offset := c.Drag(req.Displacement)
	committed, err := c.Release(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slideResp{OrderID: cur.ID, Offset: offset, Committed: committed})
}

func toDriverResps(dir *dispatch.Directory, ds []orders.Driver) []driverResp {
	out := make([]driverResp, 0, len(ds))
	for _, d := range ds {
		resp := driverResp{Key: d.ID, Login: d.LoginID, Name: d.Name, Phone: d.Phone, Status: d.Status}
		if o, ok := dir.CurrentOrder(d.LoginID); ok {
			resp.CurrentOrder = o.ID
		}
		out = append(out, resp)
	}
	return out
}
