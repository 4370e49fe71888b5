package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending          PaymentStatus = "pending"
	PaymentStatusAwaitingTransfer PaymentStatus = "awaiting_transfer"
	PaymentStatusPaid             PaymentStatus = "paid"
	PaymentStatusFailed           PaymentStatus = "failed"
)

var (
	TaxRate      = decimal.RequireFromString("0.10")
	FlatShipping = decimal.Zero
)

type ShippingAddress struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	City       string
	PostalCode string
	Country    string
}

type OrderItem struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	ProductName string
	ProductSKU  string
	Price       decimal.Decimal
	Quantity    int
	Subtotal    decimal.Decimal
}

// Order amounts are computed once by NewOrder and never recomputed.
type Order struct {
	ID                   int64
	OrderNumber          string
	UserID               int64
	Status               OrderStatus
	PaymentStatus        PaymentStatus
	PaymentMethod        PaymentMethod
	Subtotal             decimal.Decimal
	Tax                  decimal.Decimal
	Shipping             decimal.Decimal
	Discount             decimal.Decimal
	Total                decimal.Decimal
	CouponID             *int64
	CouponCode           string
	CardIntentID         string
	GatewayTransactionID string
	ShipTo               ShippingAddress
	Items                []OrderItem
	ShippedAt            *time.Time
	DeliveredAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewOrderNumber returns a human facing identifier such as ORD-20260114-9F2A61C0.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// NewOrder snapshots the cart lines and freezes the order amounts. coupon may
// be nil, in which case discount is ignored.
func NewOrder(userID int64, cart *Cart, shipTo ShippingAddress, coupon *Coupon, discount decimal.Decimal, now time.Time) *Order {
	subtotal := cart.Subtotal()
	tax := subtotal.Mul(TaxRate).Round(2)
	if coupon == nil {
		discount = decimal.Zero
	}

	o := &Order{
		OrderNumber:   NewOrderNumber(now),
		UserID:        userID,
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusPending,
		PaymentMethod: PaymentMethodNone,
		Subtotal:      subtotal,
		Tax:           tax,
		Shipping:      FlatShipping,
		Discount:      discount,
		Total:         subtotal.Add(tax).Add(FlatShipping).Sub(discount),
		ShipTo:        shipTo,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if coupon != nil {
		id := coupon.ID
		o.CouponID = &id
		o.CouponCode = coupon.Code
	}

	o.Items = make([]OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		o.Items = append(o.Items, OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSKU:  item.ProductSKU,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal(),
		})
	}
	return o
}

func (o *Order) CanInitiatePayment() error {
	if o.PaymentMethod != PaymentMethodNone {
		return ErrPaymentMethodSet
	}
	if o.PaymentStatus != PaymentStatusPending {
		return ErrOrderAlreadyPaid
	}
	return nil
}

// AssignPayment records the outcome of a successful initiation. The payment
// method can only be assigned once.
func (o *Order) AssignPayment(init *PaymentInitiation, now time.Time) error {
	if err := o.CanInitiatePayment(); err != nil {
		return err
	}
	o.PaymentMethod = init.Method
	o.SetCorrelationID(init.Method, init.CorrelationID)
	if init.Method == PaymentMethodBankTransfer {
		o.PaymentStatus = PaymentStatusAwaitingTransfer
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) CorrelationID(provider PaymentMethod) string {
	switch provider {
	case PaymentMethodCard:
		return o.CardIntentID
	case PaymentMethodAltGateway:
		return o.GatewayTransactionID
	default:
		return ""
	}
}

func (o *Order) SetCorrelationID(provider PaymentMethod, id string) {
	switch provider {
	case PaymentMethodCard:
		o.CardIntentID = id
	case PaymentMethodAltGateway:
		o.GatewayTransactionID = id
	}
}

// MarkPaid applies a successful payment. It reports false, leaving the order
// untouched, unless the payment is still pending.
func (o *Order) MarkPaid(now time.Time) bool {
	if o.PaymentStatus != PaymentStatusPending {
		return false
	}
	o.PaymentStatus = PaymentStatusPaid
	o.Status = OrderStatusProcessing
	o.UpdatedAt = now
	return true
}

// MarkPaymentFailed is the failure counterpart of MarkPaid.
func (o *Order) MarkPaymentFailed(now time.Time) bool {
	if o.PaymentStatus != PaymentStatusPending {
		return false
	}
	o.PaymentStatus = PaymentStatusFailed
	o.Status = OrderStatusCancelled
	o.UpdatedAt = now
	return true
}

// Cancel is allowed while no remote provider transaction can still settle
// the order: either nothing was initiated yet or a bank transfer is awaited.
func (o *Order) Cancel(now time.Time) error {
	if o.Status != OrderStatusPending {
		return ErrOrderNotCancellable
	}
	switch {
	case o.PaymentMethod == PaymentMethodNone && o.PaymentStatus == PaymentStatusPending:
	case o.PaymentMethod == PaymentMethodBankTransfer && o.PaymentStatus == PaymentStatusAwaitingTransfer:
	default:
		return ErrOrderNotCancellable
	}
	o.Status = OrderStatusCancelled
	o.PaymentStatus = PaymentStatusFailed
	o.UpdatedAt = now
	return nil
}

// IsOwnedBy hides orders of other users behind a not-found answer.
func (o *Order) IsOwnedBy(userID int64) bool {
	return o.UserID == userID
}
