package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

type AppliedDiscount struct {
	Coupon *domain.Coupon
	Amount decimal.Decimal
}

type DiscountEvaluator struct {
	coupons port.CouponRepository
	metrics *observability.Metrics
}

// NewDiscountEvaluator takes the repository used by Preview. Redeem always
// works on the repository of the caller's transaction.
func NewDiscountEvaluator(coupons port.CouponRepository, metrics *observability.Metrics) *DiscountEvaluator {
	return &DiscountEvaluator{coupons: coupons, metrics: metrics}
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Preview evaluates a coupon against amount without redeeming it.
func (e *DiscountEvaluator) Preview(ctx context.Context, code string, userID int64, amount decimal.Decimal) (result *AppliedDiscount, err error) {
	ctx, done := startUseCase(ctx, e.metrics, useCasePreviewCoupon, attribute.Int64("user.id", userID))
	defer func() { done(err) }()

	code = NormalizeCouponCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", domain.ErrValidation)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", domain.ErrValidation)
	}

	coupon, err := e.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, e.coupons, coupon, userID, amount)
}

// Redeem validates the coupon under lock and consumes one use. A missing
// coupon is reported as invalid so order placement answers the same way for
// unknown and exhausted codes.
func (e *DiscountEvaluator) Redeem(ctx context.Context, repo port.CouponRepository, code string, userID int64, subtotal decimal.Decimal) (*AppliedDiscount, error) {
	code = NormalizeCouponCode(code)

	coupon, err := repo.LockCouponByCode(ctx, code)
	if errors.Is(err, domain.ErrCouponNotFound) {
		return nil, fmt.Errorf("%w: unknown code", domain.ErrCouponInvalid)
	}
	if err != nil {
		return nil, err
	}

	applied, err := e.evaluate(ctx, repo, coupon, userID, subtotal)
	if err != nil {
		return nil, err
	}

	ok, err := repo.IncrementCouponUsage(ctx, coupon.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: usage limit reached", domain.ErrCouponInvalid)
	}
	coupon.UsageCount++
	return applied, nil
}

func (e *DiscountEvaluator) evaluate(ctx context.Context, repo port.CouponRepository, coupon *domain.Coupon, userID int64, subtotal decimal.Decimal) (*AppliedDiscount, error) {
	used := 0
	if coupon.UsageLimitPerUser != nil {
		n, err := repo.CountCouponUsage(ctx, coupon.ID, userID)
		if err != nil {
			return nil, err
		}
		used = n
	}

	if err := coupon.Validate(clock(), subtotal, used); err != nil {
		return nil, err
	}
	return &AppliedDiscount{Coupon: coupon, Amount: coupon.Discount(subtotal)}, nil
}
