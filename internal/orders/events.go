package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventDriverAssigned     = "DriverAssigned"
	EventStockAdjusted      = "StockAdjusted"
)

// Stock adjustment kinds.
const (
	AdjustDeduct  = "deduct"
	AdjustRestore = "restore"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`                 // console client id
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	At      string `json:"at"`
}

type DriverAssignedPayload struct {
	OrderID string `json:"order_id"`
	LoginID string `json:"login_id"`
	Name    string `json:"name"`
}

type StockLine struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Delta     int    `json:"delta"`
}

type StockAdjustedPayload struct {
	OrderID string      `json:"order_id"`
	Kind    string      `json:"kind"` // deduct | restore
	Mode    string      `json:"mode"`
	Lines   []StockLine `json:"lines"`
}

// Publisher mirrors applied changes onto the event log. Publishing is best
// effort: the change feed stays the source of truth.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// NopPublisher drops every envelope.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Envelope) error { return nil }

// NewEnvelope wraps payload in a version 1 envelope with a fresh event id.
func NewEnvelope(eventType, producer, orderID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}
