package orders

import (
	"encoding/json"
	"fmt"
	"time"
)

// Order field names as stored in the change feed.
const (
	FieldStatus          = "status"
	FieldStockReduced    = "stock_reduced"
	FieldPartnerID       = "delivery_partner_id"
	FieldPartnerName     = "delivery_partner_name"
	FieldPartnerPhone    = "delivery_partner_phone"
	FieldStatusUpdatedAt = "status_updated_at"
	FieldLastUpdated     = "last_updated"
)

// Order is the decoded view of orders/<id>.
type Order struct {
	ID              string
	Status          Status
	RawStatus       string // verbatim stored value, kept even when Status is Unknown
	Items           Items
	Total           Total
	StockReduced    bool
	PartnerID       string
	PartnerName     string
	PartnerPhone    string
	StatusUpdatedAt time.Time
	LastUpdated     time.Time
	Extra           map[string]json.RawMessage // address, contact and display fields
}

// Assigned reports whether a driver is attached to the order.
func (o Order) Assigned() bool { return o.PartnerID != "" }

type orderDoc struct {
	Status          string          `json:"status"`
	Items           Items           `json:"items"`
	Total           string          `json:"total"`
	StockReduced    truthy          `json:"stock_reduced"`
	PartnerID       string          `json:"delivery_partner_id"`
	PartnerName     string          `json:"delivery_partner_name"`
	PartnerPhone    string          `json:"delivery_partner_phone"`
	StatusUpdatedAt json.RawMessage `json:"status_updated_at"`
	LastUpdated     json.RawMessage `json:"last_updated"`
}

var knownOrderFields = map[string]bool{
	FieldStatus: true, "items": true, "total": true, FieldStockReduced: true,
	FieldPartnerID: true, FieldPartnerName: true, FieldPartnerPhone: true,
	FieldStatusUpdatedAt: true, FieldLastUpdated: true,
}

// DecodeOrder decodes one order document. A malformed total does not fail
// the decode; it leaves Total zero so the order still flows through the core.
func DecodeOrder(id string, raw []byte) (Order, error) {
	var doc orderDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}

	o := Order{
		ID:           id,
		Status:       ParseStatus(doc.Status),
		RawStatus:    doc.Status,
		Items:        doc.Items,
		StockReduced: bool(doc.StockReduced),
		PartnerID:    doc.PartnerID,
		PartnerName:  doc.PartnerName,
		PartnerPhone: doc.PartnerPhone,
	}
	o.StatusUpdatedAt = parseTime(doc.StatusUpdatedAt)
	o.LastUpdated = parseTime(doc.LastUpdated)
	if t, err := ParseTotal(doc.Total); err == nil {
		o.Total = t
	}
	for k, v := range all {
		if knownOrderFields[k] {
			continue
		}
		if o.Extra == nil {
			o.Extra = make(map[string]json.RawMessage)
		}
		o.Extra[k] = v
	}
	return o, nil
}

// DecodeOrders decodes the orders collection snapshot. Children that fail
// to decode are reported through skip and left out of the result.
func DecodeOrders(raw []byte, skip func(id string, err error)) (map[string]Order, error) {
	var children map[string]json.RawMessage
	if err := unmarshalCollection(raw, &children); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	out := make(map[string]Order, len(children))
	for id, child := range children {
		o, err := DecodeOrder(id, child)
		if err != nil {
			if skip != nil {
				skip(id, err)
			}
			continue
		}
		out[id] = o
	}
	return out, nil
}

// Product is the decoded view of products/<id>.
type Product struct {
	ID       string
	Name     string
	Quantity int
	Variants map[string]int // variant key → quantity
}

type productDoc struct {
	Name     string `json:"name"`
	Quantity number `json:"quantity"`
	Variants map[string]struct {
		Quantity number `json:"quantity"`
	} `json:"variants"`
}

// StockPath resolves the quantity path, relative to the store root, that a
// line with the given variant draws from. Products without variants keep a
// single quantity and ignore the variant. A variant the product does not
// carry, or a missing variant on a product that has them, does not resolve.
func (p Product) StockPath(variant string) (string, bool) {
	if len(p.Variants) == 0 {
		return "products/" + p.ID + "/quantity", true
	}
	if _, ok := p.Variants[variant]; !ok || variant == "" {
		return "", false
	}
	return "products/" + p.ID + "/variants/" + variant + "/quantity", true
}

// DecodeProduct decodes one products/<id> document.
func DecodeProduct(id string, raw []byte) (Product, error) {
	var doc productDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Product{}, fmt.Errorf("decode product %s: %w", id, err)
	}
	p := Product{ID: id, Name: doc.Name, Quantity: int(doc.Quantity)}
	if len(doc.Variants) > 0 {
		p.Variants = make(map[string]int, len(doc.Variants))
		for k, v := range doc.Variants {
			p.Variants[k] = int(v.Quantity)
		}
	}
	return p, nil
}

// DecodeProducts decodes the products collection snapshot. Malformed
// children are reported through skip and left out.
func DecodeProducts(raw []byte, skip func(id string, err error)) (map[string]Product, error) {
	var children map[string]json.RawMessage
	if err := unmarshalCollection(raw, &children); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	out := make(map[string]Product, len(children))
	for id, child := range children {
		p, err := DecodeProduct(id, child)
		if err != nil {
			if skip != nil {
				skip(id, err)
			}
			continue
		}
		out[id] = p
	}
	return out, nil
}

// Driver status values.
const (
	DriverActive  = "Active"
	DriverOffline = "Offline"
)

// Driver is an employee record with a delivery role.
// ID is the record key; LoginID is the app account stored on orders.
type Driver struct {
	ID      string
	LoginID string
	Name    string
	Phone   string
	Status  string
	Role    string
}

type employeeDoc struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Status         string `json:"status"`
	Role           string `json:"role"`
	DeliveryUserID string `json:"deliveryUserId"`
}

// DecodeDrivers decodes the employees collection and keeps delivery staff only.
// Malformed records are reported through skip and left out.
func DecodeDrivers(raw []byte, skip func(id string, err error)) (map[string]Driver, error) {
	var children map[string]json.RawMessage
	if err := unmarshalCollection(raw, &children); err != nil {
		return nil, fmt.Errorf("decode employees: %w", err)
	}
	out := make(map[string]Driver)
	for id, child := range children {
		var doc employeeDoc
		if err := json.Unmarshal(child, &doc); err != nil {
			if skip != nil {
				skip(id, fmt.Errorf("decode employee %s: %w", id, err))
			}
			continue
		}
		if !isDeliveryRole(doc.Role) {
			continue
		}
		out[id] = Driver{
			ID:      id,
			LoginID: doc.DeliveryUserID,
			Name:    doc.Name,
			Phone:   doc.Phone,
			Status:  doc.Status,
			Role:    doc.Role,
		}
	}
	return out, nil
}

// Broadcast is a durable message appended under messages/.
type Broadcast struct {
	ID        string `json:"-"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// DecodeBroadcast decodes one messages/<id> child.
func DecodeBroadcast(id string, raw []byte) (Broadcast, error) {
	var b Broadcast
	if err := json.Unmarshal(raw, &b); err != nil {
		return Broadcast{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	b.ID = id
	return b, nil
}

func unmarshalCollection(raw []byte, out *map[string]json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		*out = map[string]json.RawMessage{}
		return nil
	}
	return json.Unmarshal(raw, out)
}
