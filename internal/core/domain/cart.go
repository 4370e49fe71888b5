package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        int64
	UserID    int64
	Items     []CartItem
	CreatedAt time.Time
}

// CartItem carries the price captured when the line was added to the cart
// together with the product fields that are snapshotted onto the order.
type CartItem struct {
	ID          int64
	ProductID   int64
	ProductName string
	ProductSKU  string
	Quantity    int
	Price       decimal.Decimal
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}
