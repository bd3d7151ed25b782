// Package publisher emits order lifecycle events so downstream consumers
// (fulfilment, notifications) learn about settled and failed checkouts.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventOrderCompleted = "order.completed"
	EventPaymentFailed  = "payment.failed"
	EventReconcileError = "payment.reconcile_error"
)

// OrderEvent is the message published per terminal checkout outcome.
type OrderEvent struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"order_id"`
	BackendOrderID string    `json:"backend_order_id,omitempty"`
	UserID         int64     `json:"user_id"`
	Total          int64     `json:"total,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher writes order events to Kafka. A nil *Publisher is valid and
// publishes nothing, so event emission stays optional in local setups.
type Publisher struct {
	writer *kafka.Writer
}

func New(topic string, brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, event OrderEvent) error {
	if p == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
