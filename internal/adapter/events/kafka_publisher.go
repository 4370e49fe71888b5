package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const DefaultTopic = "storefront.orders"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type orderMessage struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OrderID       int64     `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserID        int64     `json:"user_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PaymentMethod string    `json:"payment_method"`
	Total         string    `json:"total"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// KafkaPublisher writes order events keyed by order number, so every event
// of one order lands on the same partition in order.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		timeout: 5 * time.Second,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	data, err := json.Marshal(orderMessage{
		ID:            event.ID,
		Type:          string(event.Type),
		OrderID:       event.OrderID,
		OrderNumber:   event.OrderNumber,
		UserID:        event.UserID,
		Status:        string(event.Status),
		PaymentStatus: string(event.PaymentStatus),
		PaymentMethod: event.PaymentMethod.String(),
		Total:         event.Total.StringFixed(2),
		OccurredAt:    event.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderNumber),
		Value: data,
		Time:  event.OccurredAt.UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.OrderEvent) error { return nil }
