package statechange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/segmentio/kafka-go"
)

// Event is emitted after a webhook changed local state and committed.
type Event struct {
	Provider       string    `json:"provider"`
	EventID        string    `json:"event_id"`
	Kind           string    `json:"kind"`
	PaymentOrderID string    `json:"payment_order_id,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	RefundID       string    `json:"refund_id,omitempty"`
	FullyRefunded  bool      `json:"fully_refunded,omitempty"`
	Suspended      bool      `json:"subscription_suspended,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Key groups events of the same aggregate on one partition.
func (e Event) Key() string {
	switch {
	case e.SubscriptionID != "":
		return "subscription:" + e.SubscriptionID
	case e.OrderID != "":
		return "order:" + e.OrderID
	case e.PaymentOrderID != "":
		return "payment_order:" + e.PaymentOrderID
	}
	return "event:" + e.EventID
}

// Publisher delivers state change events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages to one topic.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for cfg.
func NewKafkaPublisher(cfg *Config) (*KafkaPublisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("state change publishing is disabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.brokers()...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	log.Infof("[StateChange] Publishing to topic %s on %v", cfg.Topic, cfg.brokers())
	return newKafkaPublisher(w, cfg.Topic), nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode state change %s: %w", e.EventID, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "event_id", Value: []byte(e.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish state change %s to %s: %w", e.EventID, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
