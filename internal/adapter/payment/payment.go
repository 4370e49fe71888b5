// Package payment holds one adapter per payment method. Adapters only talk to
// their provider; every order transition happens in the service layer.
package payment

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

var hundred = decimal.NewFromInt(100)

// NewHTTPClient is the client every provider call goes through.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// MinorUnits converts an amount to the provider's smallest currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// Description is shown to the payer and carries the order reference used to
// correlate callbacks that arrive before the transaction id is stored.
func Description(order *domain.Order) string {
	return fmt.Sprintf("Order #%s (%s)", order.OrderNumber, domain.OrderReference(order.ID))
}
