package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

type PlaceOrderInput struct {
	UserID     int64
	CartID     int64
	CouponCode string
	ShipTo     domain.ShippingAddress
}

// Validate checks the request shape before any row is touched.
func (in PlaceOrderInput) Validate() error {
	var missing []string
	fields := []struct {
		field    string
		value    string
		required bool
		max      int
	}{
		{"shipping_name", in.ShipTo.Name, true, 255},
		{"shipping_email", in.ShipTo.Email, true, 255},
		{"shipping_phone", in.ShipTo.Phone, false, 50},
		{"shipping_address", in.ShipTo.Address, true, 255},
		{"shipping_city", in.ShipTo.City, true, 255},
		{"shipping_postal_code", in.ShipTo.PostalCode, true, 20},
		{"shipping_country", in.ShipTo.Country, true, 100},
	}
	var tooLong []string
	for _, f := range fields {
		if f.required && strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.field)
		}
		if utf8.RuneCountInString(f.value) > f.max {
			tooLong = append(tooLong, fmt.Sprintf("%s (max %d)", f.field, f.max))
		}
	}
	if in.CartID <= 0 {
		missing = append([]string{"cart_id"}, missing...)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if len(tooLong) > 0 {
		return fmt.Errorf("%w: %s too long", domain.ErrValidation, strings.Join(tooLong, ", "))
	}
	if _, err := mail.ParseAddress(in.ShipTo.Email); err != nil {
		return fmt.Errorf("%w: shipping_email is not a valid address", domain.ErrValidation)
	}
	return nil
}

type OrderPage struct {
	Orders  []domain.Order
	Page    int
	PerPage int
	Total   int
}

func (p OrderPage) LastPage() int {
	if p.Total == 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

type OrderService struct {
	db        port.DatabaseRepository
	inventory *InventoryService
	discounts *DiscountEvaluator
	events    port.EventPublisher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewOrderService(
	db port.DatabaseRepository,
	inventory *InventoryService,
	discounts *DiscountEvaluator,
	events port.EventPublisher,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *OrderService {
	return &OrderService{
		db:        db,
		inventory: inventory,
		discounts: discounts,
		events:    events,
		logger:    logger,
		metrics:   metrics,
	}
}

// PlaceOrder converts the user's cart into a pending order. Stock is reserved
// for every line, the coupon is redeemed and the cart is retired in a single
// transaction, so a failure at any step leaves no trace.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (order *domain.Order, err error) {
	ctx, done := startUseCase(ctx, s.metrics, useCasePlaceOrder,
		attribute.Int64("user.id", in.UserID),
		attribute.Int64("cart.id", in.CartID),
	)
	defer func() { done(err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	err = s.db.WithinTx(ctx, func(ctx context.Context, repo port.Repository) error {
		cart, err := repo.LockCart(ctx, in.CartID)
		if err != nil {
			return err
		}
		if cart.UserID != in.UserID {
			return domain.ErrCartNotFound
		}
		if cart.IsEmpty() {
			return domain.ErrCartEmpty
		}

		reservation, err := s.inventory.ReserveItems(ctx, repo, cart.Items)
		if err != nil {
			return err
		}

		placed, err := s.assemble(ctx, repo, in, cart)
		if err != nil {
			if releaseErr := reservation.Release(ctx, repo); releaseErr != nil {
				observability.LoggerFromContext(ctx, s.logger).Error("reservation_release_failed",
					zap.Int64("cart_id", in.CartID), zap.Error(releaseErr))
			}
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.LoggerFromContext(ctx, s.logger).Info("order_placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.Total.StringFixed(2)),
	)
	publish(ctx, s.events, s.logger, domain.EventOrderCreated, order)
	return order, nil
}

func (s *OrderService) assemble(ctx context.Context, repo port.Repository, in PlaceOrderInput, cart *domain.Cart) (*domain.Order, error) {
	subtotal := cart.Subtotal()

	var applied *AppliedDiscount
	if NormalizeCouponCode(in.CouponCode) != "" {
		var err error
		applied, err = s.discounts.Redeem(ctx, repo, in.CouponCode, in.UserID, subtotal)
		if err != nil {
			return nil, err
		}
	}

	var coupon *domain.Coupon
	discount := decimal.Zero
	if applied != nil {
		coupon, discount = applied.Coupon, applied.Amount
	}
	order := domain.NewOrder(in.UserID, cart, in.ShipTo, coupon, discount, clock())

	if err := repo.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := repo.RetireCart(ctx, cart.ID); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder returns the order only to its owner.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (order *domain.Order, err error) {
	ctx, done := startUseCase(ctx, s.metrics, useCaseGetOrder, attribute.Int64("order.id", orderID))
	defer func() { done(err) }()

	order, err = s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(userID) {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID int64, page, perPage int) (result OrderPage, err error) {
	ctx, done := startUseCase(ctx, s.metrics, useCaseListOrders, attribute.Int64("user.id", userID))
	defer func() { done(err) }()

	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, MaxPerPage)

	orders, total, err := s.db.ListOrders(ctx, userID, (page-1)*perPage, perPage)
	if err != nil {
		return OrderPage{}, err
	}
	return OrderPage{Orders: orders, Page: page, PerPage: perPage, Total: total}, nil
}

// CancelOrder cancels an order no provider can still settle and returns its
// reserved stock.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID int64) (order *domain.Order, err error) {
	ctx, done := startUseCase(ctx, s.metrics, useCaseCancelOrder, attribute.Int64("order.id", orderID))
	defer func() { done(err) }()

	err = s.db.WithinTx(ctx, func(ctx context.Context, repo port.Repository) error {
		o, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.IsOwnedBy(userID) {
			return domain.ErrOrderNotFound
		}
		if err := o.Cancel(clock()); err != nil {
			return err
		}
		if err := s.inventory.ReleaseItems(ctx, repo, o.Items); err != nil {
			return err
		}
		if err := repo.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.LoggerFromContext(ctx, s.logger).Info("order_cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("payment_method", order.PaymentMethod.String()),
	)
	publish(ctx, s.events, s.logger, domain.EventOrderCancelled, order)
	return order, nil
}
