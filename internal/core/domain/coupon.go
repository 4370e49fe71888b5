package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	ID                int64
	Code              string
	Type              DiscountType
	Value             decimal.Decimal
	MinimumAmount     decimal.Decimal
	UsageLimit        *int
	UsageLimitPerUser *int
	UsageCount        int
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	IsActive          bool
}

// Validate reports why the coupon cannot be applied to an order of subtotal
// placed by a user who has already redeemed it userUsage times. The returned
// error always wraps ErrCouponInvalid.
func (c *Coupon) Validate(now time.Time, subtotal decimal.Decimal, userUsage int) error {
	switch {
	case !c.IsActive:
		return fmt.Errorf("%w: inactive", ErrCouponInvalid)
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		return fmt.Errorf("%w: not started", ErrCouponInvalid)
	case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
		return fmt.Errorf("%w: expired", ErrCouponInvalid)
	case subtotal.LessThan(c.MinimumAmount):
		return fmt.Errorf("%w: minimum amount %s not reached", ErrCouponInvalid, c.MinimumAmount.StringFixed(2))
	case c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit:
		return fmt.Errorf("%w: usage limit reached", ErrCouponInvalid)
	case c.UsageLimitPerUser != nil && userUsage >= *c.UsageLimitPerUser:
		return fmt.Errorf("%w: already used", ErrCouponInvalid)
	}
	return nil
}

// Discount never exceeds subtotal.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Type {
	case DiscountPercentage:
		d = subtotal.Mul(c.Value).Div(hundred).Round(2)
	case DiscountFixed:
		d = c.Value
	default:
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
