package port

import (
	"context"
	"net/http"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

type PaymentAdapter interface {
	// Method is the payment method this adapter serves
	Method() domain.PaymentMethod

	// Configured reports whether the credentials the adapter needs are present
	Configured() bool

	// Initiate starts a payment for the order, making at most one provider call
	Initiate(ctx context.Context, order *domain.Order) (*domain.PaymentInitiation, error)
}

type CallbackParser interface {
	// ParseCallback verifies and decodes a provider notification
	ParseCallback(r *http.Request) (domain.Callback, error)
}

type BankDetailsProvider interface {
	// BankDetails builds the transfer instructions shown for an order
	BankDetails(order *domain.Order) *domain.BankDetails
}
