package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID               int64
	SKU              string
	Name             string
	Price            decimal.Decimal
	StockQuantity    int
	ReservedQuantity int
	UpdatedAt        time.Time
}

// Available is the stock that is neither sold nor held by a pending order.
func (p Product) Available() int {
	return p.StockQuantity - p.ReservedQuantity
}

func (p Product) CanReserve(quantity int) bool {
	return quantity > 0 && quantity <= p.Available()
}
