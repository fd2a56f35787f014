package journal

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-delivery-console/internal/kafka"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

type Store interface {
	RecordMovement(ctx context.Context, m Movement) (inserted bool, net int, err error)
	RecordStatusChange(ctx context.Context, c StatusChange) (bool, error)
}

// Dedup is a fast path in front of the event id primary keys.
type Dedup interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Handler struct {
	store   Store
	dedup   Dedup
	metrics *metrics.Set
	log     logx.Logger
}

func NewHandler(store Store, dedup Dedup, m *metrics.Set, log logx.Logger) *Handler {
	if log == nil {
		log = logx.Nop()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Handler{store: store, dedup: dedup, metrics: m, log: log.With(logx.String("component", "journal"))}
}

// Handle is installed as the consumer handler.
func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// poison message: log and commit
		h.log.Error("dropping undecodable message", logx.String("topic", m.Topic), logx.Any("offset", m.Offset), logx.Err(err))
		return nil
	}

	if h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, env.EventID)
		if err != nil {
			h.log.Warn("dedup lookup failed", logx.String("event_id", env.EventID), logx.Err(err))
		} else if seen {
			return nil
		}
	}

	switch env.EventType {
	case orders.EventStockAdjusted:
		err = h.movement(ctx, env)
	case orders.EventOrderStatusChanged:
		err = h.statusChange(ctx, env)
	default:
		h.log.Debug("ignoring event", logx.String("event_type", env.EventType))
		return nil
	}
	if err != nil {
		return err
	}

	if h.dedup != nil {
		if err := h.dedup.Mark(ctx, env.EventID); err != nil {
			h.log.Warn("dedup mark failed", logx.String("event_id", env.EventID), logx.Err(err))
		}
	}
	return nil
}

func (h *Handler) movement(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.StockAdjustedPayload](env.Payload)
	if err != nil {
		h.log.Error("dropping stock event with bad payload", logx.String("event_id", env.EventID), logx.Err(err))
		return nil
	}
	inserted, net, err := h.store.RecordMovement(ctx, Movement{
		EventID:    env.EventID,
		OrderID:    p.OrderID,
		Kind:       p.Kind,
		Mode:       p.Mode,
		Producer:   env.Producer,
		Lines:      p.Lines,
		OccurredAt: env.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("record movement %s: %w", env.EventID, err)
	}
	if !inserted {
		return nil
	}
	h.metrics.JournalEvents.WithLabelValues(env.EventType).Inc()

	switch {
	case net > 1:
		h.metrics.DoubleDeductions.Inc()
		h.log.Error("double deduction detected",
			logx.String("order_id", p.OrderID),
			logx.Int("net_deductions", net),
			logx.String("producer", env.Producer),
			logx.String("mode", p.Mode),
		)
	case net < 0:
		h.log.Warn("restore without matching deduction", logx.String("order_id", p.OrderID), logx.Int("net_deductions", net))
	}
	return nil
}

func (h *Handler) statusChange(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		h.log.Error("dropping status event with bad payload", logx.String("event_id", env.EventID), logx.Err(err))
		return nil
	}
	inserted, err := h.store.RecordStatusChange(ctx, StatusChange{
		EventID:    env.EventID,
		OrderID:    p.OrderID,
		From:       p.From,
		To:         p.To,
		Producer:   env.Producer,
		OccurredAt: env.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("record status change %s: %w", env.EventID, err)
	}
	if inserted {
		h.metrics.JournalEvents.WithLabelValues(env.EventType).Inc()
	}
	return nil
}
