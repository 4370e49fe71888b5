package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

type orderItemResponse struct {
	ID          int64   `json:"id"`
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	ProductSKU  string  `json:"product_sku"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	Subtotal    float64 `json:"subtotal"`
}

type couponResponse struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
}

type shippingAddressResponse struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Phone      *string `json:"phone"`
	Address    string  `json:"address"`
	City       string  `json:"city"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

type bankDetailsResponse struct {
	BankName      string  `json:"bank_name"`
	AccountNumber string  `json:"account_number"`
	Recipient     string  `json:"recipient"`
	Title         string  `json:"title"`
	Amount        float64 `json:"amount"`
	OrderNumber   string  `json:"order_number"`
}

type orderResponse struct {
	ID              int64                   `json:"id"`
	OrderNumber     string                  `json:"order_number"`
	Status          domain.OrderStatus      `json:"status"`
	PaymentStatus   domain.PaymentStatus    `json:"payment_status"`
	Subtotal        float64                 `json:"subtotal"`
	Tax             float64                 `json:"tax"`
	Shipping        float64                 `json:"shipping"`
	Discount        float64                 `json:"discount"`
	Total           float64                 `json:"total"`
	Items           []orderItemResponse     `json:"items"`
	Coupon          *couponResponse         `json:"coupon,omitempty"`
	ShippingAddress shippingAddressResponse `json:"shipping_address"`
	PaymentMethod   *string                 `json:"payment_method"`
	BankDetails     *bankDetailsResponse    `json:"bank_details,omitempty"`
	ShippedAt       *string                 `json:"shipped_at"`
	DeliveredAt     *string                 `json:"delivered_at"`
	CreatedAt       string                  `json:"created_at"`
	UpdatedAt       string                  `json:"updated_at"`
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func presentBankDetails(d *domain.BankDetails) *bankDetailsResponse {
	if d == nil {
		return nil
	}
	return &bankDetailsResponse{
		BankName:      d.BankName,
		AccountNumber: d.AccountNumber,
		Recipient:     d.Recipient,
		Title:         d.Title,
		Amount:        money(d.Amount),
		OrderNumber:   d.OrderNumber,
	}
}

// presentOrder renders an order; bank is only consulted for bank transfer
// orders.
func presentOrder(o *domain.Order, bank func(*domain.Order) *domain.BankDetails) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Subtotal:      money(o.Subtotal),
		Tax:           money(o.Tax),
		Shipping:      money(o.Shipping),
		Discount:      money(o.Discount),
		Total:         money(o.Total),
		Items:         make([]orderItemResponse, 0, len(o.Items)),
		ShippingAddress: shippingAddressResponse{
			Name:       o.ShipTo.Name,
			Email:      o.ShipTo.Email,
			Phone:      optionalString(o.ShipTo.Phone),
			Address:    o.ShipTo.Address,
			City:       o.ShipTo.City,
			PostalCode: o.ShipTo.PostalCode,
			Country:    o.ShipTo.Country,
		},
		ShippedAt:   optionalTimestamp(o.ShippedAt),
		DeliveredAt: optionalTimestamp(o.DeliveredAt),
		CreatedAt:   timestamp(o.CreatedAt),
		UpdatedAt:   timestamp(o.UpdatedAt),
	}

	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSKU:  item.ProductSKU,
			Quantity:    item.Quantity,
			Price:       money(item.Price),
			Subtotal:    money(item.Subtotal),
		})
	}

	if o.CouponID != nil {
		resp.Coupon = &couponResponse{Code: o.CouponCode, Discount: money(o.Discount)}
	}
	if o.PaymentMethod != domain.PaymentMethodNone {
		method := o.PaymentMethod.String()
		resp.PaymentMethod = &method
	}
	if o.PaymentMethod == domain.PaymentMethodBankTransfer && bank != nil {
		resp.BankDetails = presentBankDetails(bank(o))
	}
	return resp
}
