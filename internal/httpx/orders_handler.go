package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-delivery-console/internal/apperr"
	"github.com/ariefcatur/go-delivery-console/internal/dispatch"
	"github.com/ariefcatur/go-delivery-console/internal/lifecycle"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// OrderView is the session's observed state.
type OrderView interface {
	List() []orders.Order
	Order(id string) (orders.Order, bool)
	Directory() *dispatch.Directory
}

// Transitions is the lifecycle write path.
type Transitions interface {
	Advance(ctx context.Context, orderID string, req lifecycle.AdvanceRequest) (lifecycle.Transition, error)
	Assign(ctx context.Context, orderID, driverKey string) (lifecycle.Transition, error)
	Cancel(ctx context.Context, orderID string) (lifecycle.Transition, error)
}

type OrdersHandler struct {
	View      OrderView
	Lifecycle Transitions
}

type itemResp struct {
	ProductID string `json:"productId,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
}

type totalResp struct {
	Amount string `json:"amount"`
	Method string `json:"method,omitempty"`
}

type partnerResp struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type orderResp struct {
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	Next            string       `json:"next,omitempty"`
	Items           []itemResp   `json:"items"`
	Total           totalResp    `json:"total"`
	StockReduced    bool         `json:"stockReduced"`
	Partner         *partnerResp `json:"deliveryPartner,omitempty"`
	StatusUpdatedAt *time.Time   `json:"statusUpdatedAt,omitempty"`
	LastUpdated     *time.Time   `json:"lastUpdated,omitempty"`
}

type transitionReq struct {
	DriverKey string `json:"driverKey"`
}

type transitionResp struct {
	OrderID string       `json:"orderId"`
	From    string       `json:"from"`
	To      string       `json:"to"`
	At      time.Time    `json:"at"`
	Partner *partnerResp `json:"deliveryPartner,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/advance", h.advance)
	r.Post("/orders/{id}/assign", h.assign)
	r.Post("/orders/{id}/cancel", h.cancel)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	list := h.View.List()
	out := make([]orderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.View.Order(chi.URLParam(r, "id"))
	if !ok {
		writeErr(w, apperr.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) advance(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if !decodeJSON(w, r, &req, true) {
		return
	}
	tr, err := h.Lifecycle.Advance(r.Context(), chi.URLParam(r, "id"), lifecycle.AdvanceRequest{DriverKey: req.DriverKey})
	h.respond(w, tr, err)
}

func (h *OrdersHandler) assign(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.DriverKey == "" {
		writeErr(w, apperr.ErrNoDriver)
		return
	}
	tr, err := h.Lifecycle.Assign(r.Context(), chi.URLParam(r, "id"), req.DriverKey)
	h.respond(w, tr, err)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	tr, err := h.Lifecycle.Cancel(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, tr, err)
}

func (h *OrdersHandler) respond(w http.ResponseWriter, tr lifecycle.Transition, err error) {
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := transitionResp{OrderID: tr.OrderID, From: string(tr.From), To: string(tr.To), At: tr.At}
	if a := tr.Assignment; a != nil {
		resp.Partner = &partnerResp{ID: a.Login, Name: a.Name, Phone: a.Phone}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toOrderResp(o orders.Order) orderResp {
	resp := orderResp{
		ID:           o.ID,
		Status:       o.RawStatus,
		Items:        make([]itemResp, 0, len(o.Items)),
		Total:        totalResp{Amount: o.Total.Amount.StringFixed(2), Method: o.Total.Method},
		StockReduced: o.StockReduced,
	}
	if next, ok := orders.Next(o.Status); ok {
		resp.Next = string(next)
	}
	for _, li := range o.Items {
		resp.Items = append(resp.Items, itemResp{ProductID: li.ProductID, Variant: li.Variant, Name: li.Name, Quantity: li.Quantity})
	}
	if o.Assigned() {
		resp.Partner = &partnerResp{ID: o.PartnerID, Name: o.PartnerName, Phone: o.PartnerPhone}
	}
	if !o.StatusUpdatedAt.IsZero() {
		t := o.StatusUpdatedAt
		resp.StatusUpdatedAt = &t
	}
	if !o.LastUpdated.IsZero() {
		t := o.LastUpdated
		resp.LastUpdated = &t
	}
	return resp
}
