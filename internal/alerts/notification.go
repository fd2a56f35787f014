// Package alerts turns observed deltas into session notifications and
// surfaces them once.
package alerts

import "time"

// Notification types.
const (
	TypeOrder    = "order"
	TypeDelivery = "delivery"
	TypeStock    = "stock"
	TypeInfo     = "info"
)

// Routes a notification opens when tapped.
const (
	RouteOrderQueue    = "/orders"
	RouteDeliveryQueue = "/deliveries"
	RouteInventory     = "/inventory"
)

// Notification lives only in the session inbox; it is never written back.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId,omitempty"`
	Route     string    `json:"route,omitempty"`
}
