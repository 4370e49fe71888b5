package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")

	ErrCartEmpty           = errors.New("cart is empty")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCouponInvalid       = errors.New("invalid or expired coupon code")
	ErrOrderAlreadyPaid    = errors.New("order is already paid")
	ErrPaymentMethodSet    = errors.New("payment already initiated for this order")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
	ErrCallbackInFlight    = errors.New("callback is already being processed")

	ErrCartNotFound    = errors.New("cart not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrCouponNotFound  = errors.New("coupon not found")
	ErrProductNotFound = errors.New("product not found")

	ErrProviderUnavailable = errors.New("payment provider is not configured")
	ErrProviderFailure     = errors.New("payment provider call failed")
	ErrUnknownCallback     = errors.New("unknown transaction")
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindProviderUnavailable
	KindProvider
	KindUnknownCallback
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindProvider:
		return "provider_error"
	case KindUnknownCallback:
		return "unknown_callback"
	default:
		return "internal"
	}
}

var kindsBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrValidation, KindValidation},
	{ErrCartEmpty, KindConflict},
	{ErrInsufficientStock, KindConflict},
	{ErrCouponInvalid, KindConflict},
	{ErrOrderAlreadyPaid, KindConflict},
	{ErrPaymentMethodSet, KindConflict},
	{ErrOrderNotCancellable, KindConflict},
	{ErrCallbackInFlight, KindConflict},
	{ErrCartNotFound, KindNotFound},
	{ErrOrderNotFound, KindNotFound},
	{ErrCouponNotFound, KindNotFound},
	{ErrProductNotFound, KindNotFound},
	{ErrProviderUnavailable, KindProviderUnavailable},
	{ErrProviderFailure, KindProvider},
	{ErrUnknownCallback, KindUnknownCallback},
}

// Classify maps err onto the error kind that decides the transport status.
// Anything not wrapping a known sentinel is internal.
func Classify(err error) ErrorKind {
	for _, s := range kindsBySentinel {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInternal
}
