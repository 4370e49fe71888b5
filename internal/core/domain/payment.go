package domain

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

type PaymentMethod uint8

const (
	PaymentMethodNone PaymentMethod = iota
	PaymentMethodCard
	PaymentMethodAltGateway
	PaymentMethodBankTransfer
)

// SelectablePaymentMethods lists every method a client may choose. Each one
// needs a registered adapter.
var SelectablePaymentMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodAltGateway,
	PaymentMethodBankTransfer,
}

func (m PaymentMethod) String() string {
	switch m {
	case PaymentMethodCard:
		return "card"
	case PaymentMethodAltGateway:
		return "alt_gateway"
	case PaymentMethodBankTransfer:
		return "bank_transfer"
	default:
		return "none"
	}
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch s {
	case "card":
		return PaymentMethodCard, nil
	case "alt_gateway":
		return PaymentMethodAltGateway, nil
	case "bank_transfer":
		return PaymentMethodBankTransfer, nil
	}
	return PaymentMethodNone, fmt.Errorf("%w: payment_method must be one of card, alt_gateway, bank_transfer", ErrValidation)
}

func (m PaymentMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type BankDetails struct {
	BankName      string
	AccountNumber string
	Recipient     string
	Title         string
	Amount        decimal.Decimal
	OrderNumber   string
}

// PaymentInitiation is what an adapter hands back after starting a payment.
// Only the field matching Method is populated.
type PaymentInitiation struct {
	Method        PaymentMethod
	CorrelationID string
	ClientSecret  string
	RedirectURL   string
	BankDetails   *BankDetails
}

type CallbackOutcome int

const (
	OutcomeIgnored CallbackOutcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o CallbackOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// Callback is a provider notification reduced to what reconciliation needs.
// References holds free-text fields that may embed an order reference.
type Callback struct {
	Provider      PaymentMethod
	TransactionID string
	RawStatus     string
	Outcome       CallbackOutcome
	References    []string
}

var orderReferencePattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9])Order:(\d{1,19})(?:$|[^0-9A-Za-z])`)

// OrderReference formats the marker embedded in provider descriptions so a
// callback can be matched to its order before the transaction id is stored.
func OrderReference(orderID int64) string {
	return "Order:" + strconv.FormatInt(orderID, 10)
}

// ParseOrderReference extracts the order id from text produced with
// OrderReference. It is the only fallback correlation path.
func ParseOrderReference(text string) (int64, bool) {
	m := orderReferencePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
