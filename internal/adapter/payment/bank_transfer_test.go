package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

func TestBankTransferAdapter_Initiate(t *testing.T) {
	adapter := NewBankTransferAdapter(BankTransferOptions{
		BankName:      "Example Bank",
		AccountNumber: "PL61 1090 1014 0000 0712 1981 2874",
		Recipient:     "Storefront Ltd",
		TitleFormat:   "Payment for %s",
	})
	require.True(t, adapter.Configured())

	init, err := adapter.Initiate(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodBankTransfer, init.Method)
	assert.Empty(t, init.CorrelationID)
	require.NotNil(t, init.BankDetails)
	assert.Equal(t, "Payment for ORD-20260301-ABCDEF12", init.BankDetails.Title)
	assert.True(t, init.BankDetails.Amount.Equal(decimal.RequireFromString("110")))
	assert.Equal(t, "Storefront Ltd", init.BankDetails.Recipient)
}

func TestBankTransferAdapter_DefaultTitle(t *testing.T) {
	details := NewBankTransferAdapter(BankTransferOptions{}).BankDetails(testOrder())
	assert.Equal(t, "Order no. ORD-20260301-ABCDEF12", details.Title)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(11000), MinorUnits(decimal.RequireFromString("110.00")))
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.005")))
}
