package port

import (
	"context"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

type InventoryRepository interface {
	// LockProduct reads a product and holds its row until the transaction ends
	LockProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// ReserveStock atomically moves quantity into reserved, returns false if not enough is available
	ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error)

	// ConfirmStock turns a reservation into a permanent deduction, returns false if no such reservation is held
	ConfirmStock(ctx context.Context, productID int64, quantity int) (bool, error)

	// ReleaseStock returns reserved quantity to the available pool, never below zero
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
}

type CartRepository interface {
	// LockCart loads an active cart with its items, locking it for conversion
	LockCart(ctx context.Context, cartID int64) (*domain.Cart, error)

	// RetireCart deletes the cart items and soft deletes the cart
	RetireCart(ctx context.Context, cartID int64) error
}

type CouponRepository interface {
	// GetCouponByCode returns ErrCouponNotFound when no coupon has the code
	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// LockCouponByCode is GetCouponByCode holding the row until the transaction ends
	LockCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// CountCouponUsage counts orders of userID that redeemed the coupon
	CountCouponUsage(ctx context.Context, couponID, userID int64) (int, error)

	// IncrementCouponUsage bumps usage_count by one, returns false if the global limit is exhausted
	IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error)
}

type OrderRepository interface {
	// InsertOrder persists the order and its items, filling in generated ids
	InsertOrder(ctx context.Context, order *domain.Order) error

	// GetOrder loads an order with its items, returns ErrOrderNotFound if absent
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// LockOrder is GetOrder holding the row until the transaction ends
	LockOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// LockOrderByCorrelation finds the order carrying the provider transaction id
	LockOrderByCorrelation(ctx context.Context, provider domain.PaymentMethod, transactionID string) (*domain.Order, error)

	// ListOrders returns one page of the user's orders, newest first, with the total count
	ListOrders(ctx context.Context, userID int64, offset, limit int) ([]domain.Order, int, error)

	// UpdateOrderState writes status, payment fields and correlation ids
	UpdateOrderState(ctx context.Context, order *domain.Order) error
}

type Repository interface {
	InventoryRepository
	CartRepository
	CouponRepository
	OrderRepository
}

type DatabaseRepository interface {
	Repository

	// WithinTx runs fn inside one transaction, committing when fn returns nil.
	// fn must only use the repository it is given and may run again when the
	// store aborts the transaction on a lock conflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
