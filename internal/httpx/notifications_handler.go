package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-delivery-console/internal/alerts"
)

type NotificationsHandler struct {
	Inbox *alerts.Inbox
	Gate  *alerts.Gate
}

type inboxResp struct {
	Unread int                   `json:"unread"`
	Items  []alerts.Notification `json:"items"`
}

type screenReq struct {
	Screen string `json:"screen"`
}

func (h *NotificationsHandler) Register(r chi.Router) {
	r.Get("/notifications", h.list)
	r.Post("/notifications/read-all", h.readAll)
	r.Post("/notifications/{id}/read", h.read)
	r.Put("/session/screen", h.screen)
}

func (h *NotificationsHandler) list(w http.ResponseWriter, r *http.Request) {
	items := h.Inbox.List()
	if items == nil {
		items = []alerts.Notification{}
	}
	writeJSON(w, http.StatusOK, inboxResp{Unread: h.Inbox.Unread(), Items: items})
}

func (h *NotificationsHandler) read(w http.ResponseWriter, r *http.Request) {
	if err := h.Inbox.MarkRead(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationsHandler) readAll(w http.ResponseWriter, r *http.Request) {
	h.Inbox.MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

// screen tells the session which screen is showing; the landing screen
// records notifications without surfacing them.
func (h *NotificationsHandler) screen(w http.ResponseWriter, r *http.Request) {
	var req screenReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.Gate.Set(req.Screen)
	writeJSON(w, http.StatusOK, map[string]any{"screen": req.Screen, "surfacing": h.Gate.Surfacing()})
}
