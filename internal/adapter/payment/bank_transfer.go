package payment

import (
	"context"
	"fmt"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type BankTransferOptions struct {
	BankName      string
	AccountNumber string
	Recipient     string

	// TitleFormat holds a single %s for the order number.
	TitleFormat string
}

// BankTransferAdapter makes no remote call. The order waits for a manual
// transfer, settled outside this service.
type BankTransferAdapter struct {
	opts BankTransferOptions
}

var (
	_ port.PaymentAdapter      = (*BankTransferAdapter)(nil)
	_ port.BankDetailsProvider = (*BankTransferAdapter)(nil)
)

func NewBankTransferAdapter(opts BankTransferOptions) *BankTransferAdapter {
	if opts.TitleFormat == "" {
		opts.TitleFormat = "Order no. %s"
	}
	return &BankTransferAdapter{opts: opts}
}

func (a *BankTransferAdapter) Method() domain.PaymentMethod { return domain.PaymentMethodBankTransfer }

func (a *BankTransferAdapter) Configured() bool { return true }

func (a *BankTransferAdapter) Initiate(_ context.Context, order *domain.Order) (*domain.PaymentInitiation, error) {
	return &domain.PaymentInitiation{
		Method:      domain.PaymentMethodBankTransfer,
		BankDetails: a.BankDetails(order),
	}, nil
}

func (a *BankTransferAdapter) BankDetails(order *domain.Order) *domain.BankDetails {
	return &domain.BankDetails{
		BankName:      a.opts.BankName,
		AccountNumber: a.opts.AccountNumber,
		Recipient:     a.opts.Recipient,
		Title:         fmt.Sprintf(a.opts.TitleFormat, order.OrderNumber),
		Amount:        order.Total,
		OrderNumber:   order.OrderNumber,
	}
}
