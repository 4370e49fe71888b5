package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated          EventType = "order.created"
	EventOrderPaymentInitiated EventType = "order.payment_initiated"
	EventOrderPaid             EventType = "order.paid"
	EventOrderPaymentFailed    EventType = "order.payment_failed"
	EventOrderCancelled        EventType = "order.cancelled"
)

type OrderEvent struct {
	ID            string
	Type          EventType
	OrderID       int64
	OrderNumber   string
	UserID        int64
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Total         decimal.Decimal
	OccurredAt    time.Time
}

func NewOrderEvent(t EventType, o *Order, id string, now time.Time) OrderEvent {
	return OrderEvent{
		ID:            id,
		Type:          t,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total,
		OccurredAt:    now,
	}
}
