package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// Outbox routes envelopes to one Producer per topic.
type Outbox struct {
	producers map[string]*Producer
}

var _ orders.Publisher = (*Outbox)(nil)

func NewOutbox(producers ...*Producer) *Outbox {
	o := &Outbox{producers: make(map[string]*Producer, len(producers))}
	for _, p := range producers {
		o.producers[p.topic] = p
	}
	return o
}

func (o *Outbox) Publish(ctx context.Context, topic string, env orders.Envelope) error {
	p, ok := o.producers[topic]
	if !ok {
		return fmt.Errorf("kafka: no producer for topic %q", topic)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", env.EventType, err)
	}
	return p.Publish(ctx, orders.PartitionKey(env.CorrelationID), b,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

// Start starts every producer.
func (o *Outbox) Start(ctx context.Context) {
	for _, p := range o.producers {
		p.Start(ctx)
	}
}

// Close flushes and stops every producer.
func (o *Outbox) Close() {
	for _, p := range o.producers {
		p.Close()
	}
	for _, p := range o.producers {
		p.WaitClosed()
	}
}
