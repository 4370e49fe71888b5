package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

func TestNewPaymentService_RequiresEveryMethod(t *testing.T) {
	store := storage.NewMemoryAdapter()
	card := &fakeAdapter{method: domain.PaymentMethodCard}
	gateway := &fakeAdapter{method: domain.PaymentMethodAltGateway}
	bank := &fakeAdapter{method: domain.PaymentMethodBankTransfer}

	_, err := NewPaymentService(store, []port.PaymentAdapter{card, gateway}, nil, zap.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bank_transfer")

	_, err = NewPaymentService(store, []port.PaymentAdapter{card, card, gateway, bank}, nil, zap.NewNop(), nil)
	require.Error(t, err)

	_, err = NewPaymentService(store, []port.PaymentAdapter{bank, gateway, card}, nil, zap.NewNop(), nil)
	require.NoError(t, err)
}

func TestInitiatePayment_Card(t *testing.T) {
	f := newFixture(t, nil)
	order, _ := f.placeOrder(t, 1, 5)
	ctx := context.Background()

	result, err := f.payments.InitiatePayment(ctx, 1, order.ID, domain.PaymentMethodCard)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Initiation.ClientSecret)
	assert.Equal(t, domain.PaymentMethodCard, result.Order.PaymentMethod)
	assert.Equal(t, domain.PaymentStatusPending, result.Order.PaymentStatus)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Initiation.CorrelationID, stored.CardIntentID)
	assert.Nil(t, f.payments.BankDetails(stored))

	_, err = f.payments.InitiatePayment(ctx, 1, order.ID, domain.PaymentMethodCard)
	require.ErrorIs(t, err, domain.ErrPaymentMethodSet)
	assert.Equal(t, domain.KindConflict, domain.Classify(err))
	assert.Equal(t, int32(1), f.card.calls.Load())
	assert.Contains(t, f.events.types(), domain.EventOrderPaymentInitiated)
}

func TestInitiatePayment_AltGateway(t *testing.T) {
	f := newFixture(t, nil)
	order, _ := f.placeOrder(t, 1, 5)

	result, err := f.payments.InitiatePayment(context.Background(), 1, order.ID, domain.PaymentMethodAltGateway)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Initiation.RedirectURL)
	assert.Equal(t, result.Initiation.CorrelationID, result.Order.GatewayTransactionID)
}

func TestInitiatePayment_BankTransfer(t *testing.T) {
	f := newFixture(t, nil)
	order, _ := f.placeOrder(t, 1, 5)

	result, err := f.payments.InitiatePayment(context.Background(), 1, order.ID, domain.PaymentMethodBankTransfer)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusAwaitingTransfer, result.Order.PaymentStatus)
	require.NotNil(t, result.Initiation.BankDetails)
	assert.True(t, result.Initiation.BankDetails.Amount.Equal(decimal.RequireFromString("110.00")))

	details := f.payments.BankDetails(result.Order)
	require.NotNil(t, details)
	assert.Equal(t, "Order no. "+order.OrderNumber, details.Title)
}

func TestInitiatePayment_ConcurrentCallsProviderOnce(t *testing.T) {
	f := newFixture(t, nil)
	order, _ := f.placeOrder(t, 1, 5)

	var successCount, conflictCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.payments.InitiatePayment(context.Background(), 1, order.ID, domain.PaymentMethodCard)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrPaymentMethodSet):
				conflictCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
	assert.Equal(t, int32(9), conflictCount.Load())
	assert.Equal(t, int32(1), f.card.calls.Load())
}

func TestInitiatePayment_Unconfigured(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.configured = false
	order, _ := f.placeOrder(t, 1, 5)

	_, err := f.payments.InitiatePayment(context.Background(), 1, order.ID, domain.PaymentMethodAltGateway)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, domain.KindProviderUnavailable, domain.Classify(err))
	assert.Equal(t, int32(0), f.gateway.calls.Load())

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	assert.Equal(t, domain.PaymentMethodNone, stored.PaymentMethod)
}

func TestInitiatePayment_ProviderFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.card.err = errors.New("card_declined: raw provider text")
	order, _ := f.placeOrder(t, 1, 5)

	_, err := f.payments.InitiatePayment(context.Background(), 1, order.ID, domain.PaymentMethodCard)
	require.ErrorIs(t, err, domain.ErrProviderFailure)
	assert.Equal(t, domain.KindProvider, domain.Classify(err))

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	assert.Equal(t, domain.PaymentMethodNone, stored.PaymentMethod)
	assert.Empty(t, stored.CardIntentID)

	f.card.err = nil
	_, err = f.payments.InitiatePayment(context.Background(), 1, order.ID, domain.PaymentMethodCard)
	require.NoError(t, err, "a failed initiation can be retried")
}

func TestInitiatePayment_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	order, _ := f.placeOrder(t, 1, 5)
	ctx := context.Background()

	_, err := f.payments.InitiatePayment(ctx, 2, order.ID, domain.PaymentMethodCard)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.payments.InitiatePayment(ctx, 1, order.ID, domain.PaymentMethodNone)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.orders.CancelOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	_, err = f.payments.InitiatePayment(ctx, 1, order.ID, domain.PaymentMethodCard)
	require.ErrorIs(t, err, domain.ErrOrderAlreadyPaid)
	assert.Equal(t, int32(0), f.card.calls.Load())
}
