package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
)

func initiate(t *testing.T, f *fixture, order *domain.Order, method domain.PaymentMethod) string {
	t.Helper()
	result, err := f.payments.InitiatePayment(context.Background(), order.UserID, order.ID, method)
	require.NoError(t, err)
	return result.Initiation.CorrelationID
}

func TestReconcile_CardSuccessConfirmsStockOnce(t *testing.T) {
	f := newFixture(t, nil)
	order, productID := f.placeOrder(t, 1, 5)
	intent := initiate(t, f, order, domain.PaymentMethodCard)
	ctx := context.Background()
	cb := domain.Callback{Provider: domain.PaymentMethodCard, TransactionID: intent, RawStatus: "payment_intent.succeeded", Outcome: domain.OutcomeSucceeded}

	result, err := f.reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, domain.PaymentStatusPaid, result.Order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, result.Order.Status)

	p := f.product(t, productID)
	assert.Equal(t, 4, p.StockQuantity)
	assert.Equal(t, 0, p.ReservedQuantity)

	replay, err := f.reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.False(t, replay.Applied)

	p = f.product(t, productID)
	assert.Equal(t, 4, p.StockQuantity)
	assert.Equal(t, 0, p.ReservedQuantity)
	assert.Contains(t, f.events.types(), domain.EventOrderPaid)
}

func TestReconcile_GatewayFailureReleasesStock(t *testing.T) {
	f := newFixture(t, nil)
	order, productID := f.placeOrder(t, 1, 5)
	txID := initiate(t, f, order, domain.PaymentMethodAltGateway)

	result, err := f.reconciler.Reconcile(context.Background(), domain.Callback{
		Provider: domain.PaymentMethodAltGateway, TransactionID: txID, RawStatus: "FALSE", Outcome: domain.OutcomeFailed,
	})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, domain.PaymentStatusFailed, result.Order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusCancelled, result.Order.Status)

	p := f.product(t, productID)
	assert.Equal(t, 5, p.StockQuantity)
	assert.Equal(t, 0, p.ReservedQuantity)
}

func TestReconcile_TerminalStateIsFinal(t *testing.T) {
	f := newFixture(t, nil)
	order, productID := f.placeOrder(t, 1, 5)
	intent := initiate(t, f, order, domain.PaymentMethodCard)
	ctx := context.Background()

	_, err := f.reconciler.Reconcile(ctx, domain.Callback{Provider: domain.PaymentMethodCard, TransactionID: intent, Outcome: domain.OutcomeSucceeded})
	require.NoError(t, err)

	late, err := f.reconciler.Reconcile(ctx, domain.Callback{Provider: domain.PaymentMethodCard, TransactionID: intent, Outcome: domain.OutcomeFailed})
	require.NoError(t, err)
	assert.False(t, late.Applied)
	assert.Equal(t, domain.PaymentStatusPaid, late.Order.PaymentStatus)
	assert.Equal(t, 4, f.product(t, productID).StockQuantity)
}

func TestReconcile_IgnoredStatusChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	order, productID := f.placeOrder(t, 1, 5)
	intent := initiate(t, f, order, domain.PaymentMethodCard)

	result, err := f.reconciler.Reconcile(context.Background(), domain.Callback{
		Provider: domain.PaymentMethodCard, TransactionID: intent, RawStatus: "payment_intent.processing", Outcome: domain.OutcomeIgnored,
	})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, domain.PaymentStatusPending, result.Order.PaymentStatus)
	assert.Equal(t, 1, f.product(t, productID).ReservedQuantity)
}

// orphanInitiation leaves the order as if the provider accepted the
// transaction but its id was never stored.
func orphanInitiation(t *testing.T, f *fixture, orderID int64, method domain.PaymentMethod) {
	t.Helper()
	order, err := f.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	order.PaymentMethod = method
	require.NoError(t, f.store.UpdateOrderState(context.Background(), order))
}

func TestReconcile_FallbackReferenceBackfills(t *testing.T) {
	f := newFixture(t, nil)
	order, productID := f.placeOrder(t, 1, 5)
	orphanInitiation(t, f, order.ID, domain.PaymentMethodAltGateway)
	ctx := context.Background()

	result, err := f.reconciler.Reconcile(ctx, domain.Callback{
		Provider:      domain.PaymentMethodAltGateway,
		TransactionID: "TR-ORPHAN",
		RawStatus:     "TRUE",
		Outcome:       domain.OutcomeSucceeded,
		References:    []string{"", "Order #" + order.OrderNumber + " (" + domain.OrderReference(order.ID) + ")"},
	})
	require.NoError(t, err)
	assert.True(t, result.Backfilled)
	assert.True(t, result.Applied)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "TR-ORPHAN", stored.GatewayTransactionID)
	assert.Equal(t, domain.PaymentMethodAltGateway, stored.PaymentMethod)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, 4, f.product(t, productID).StockQuantity)

	byID, err := f.store.LockOrderByCorrelation(ctx, domain.PaymentMethodAltGateway, "TR-ORPHAN")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byID.ID)
}

func TestReconcile_FallbackNeedsMatchingInitiation(t *testing.T) {
	f := newFixture(t, nil)
	fresh, productID := f.placeOrder(t, 1, 5)
	bank, _ := f.placeOrder(t, 2, 5)
	initiate(t, f, bank, domain.PaymentMethodBankTransfer)
	ctx := context.Background()

	for _, order := range []*domain.Order{fresh, bank} {
		_, err := f.reconciler.Reconcile(ctx, domain.Callback{
			Provider:      domain.PaymentMethodAltGateway,
			TransactionID: "TR-FORGED",
			RawStatus:     "TRUE",
			Outcome:       domain.OutcomeSucceeded,
			References:    []string{domain.OrderReference(order.ID)},
		})
		require.ErrorIs(t, err, domain.ErrUnknownCallback)

		stored, err := f.store.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.NotEqual(t, domain.PaymentStatusPaid, stored.PaymentStatus)
		assert.Empty(t, stored.GatewayTransactionID)
	}

	stored, err := f.store.GetOrder(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodNone, stored.PaymentMethod)
	assert.Equal(t, 1, f.product(t, productID).ReservedQuantity)
}

func TestReconcile_FallbackKeepsExistingCorrelation(t *testing.T) {
	f := newFixture(t, nil)
	order, _ := f.placeOrder(t, 1, 5)
	txID := initiate(t, f, order, domain.PaymentMethodAltGateway)

	_, err := f.reconciler.Reconcile(context.Background(), domain.Callback{
		Provider:      domain.PaymentMethodAltGateway,
		TransactionID: "TR-OTHER",
		Outcome:       domain.OutcomeSucceeded,
		References:    []string{domain.OrderReference(order.ID)},
	})
	require.ErrorIs(t, err, domain.ErrUnknownCallback)

	stored, _ := f.store.GetOrder(context.Background(), order.ID)
	assert.Equal(t, txID, stored.GatewayTransactionID)
	assert.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)
}

func TestReconcile_UnknownTransaction(t *testing.T) {
	f := newFixture(t, nil)
	f.placeOrder(t, 1, 5)

	_, err := f.reconciler.Reconcile(context.Background(), domain.Callback{
		Provider: domain.PaymentMethodCard, TransactionID: "pi_missing", Outcome: domain.OutcomeSucceeded,
		References: []string{"Order #ORD-1 (Order:99999)"},
	})
	require.ErrorIs(t, err, domain.ErrUnknownCallback)
	assert.Equal(t, domain.KindUnknownCallback, domain.Classify(err))

	_, err = f.reconciler.Reconcile(context.Background(), domain.Callback{Provider: domain.PaymentMethodCard, Outcome: domain.OutcomeSucceeded})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestReconcile_CacheShortCircuitsReplays(t *testing.T) {
	cache := newMemoryCache()
	f := newFixture(t, cache)
	order, productID := f.placeOrder(t, 1, 5)
	intent := initiate(t, f, order, domain.PaymentMethodCard)
	ctx := context.Background()
	cb := domain.Callback{Provider: domain.PaymentMethodCard, TransactionID: intent, Outcome: domain.OutcomeSucceeded}

	first, err := f.reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	replay, err := f.reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, 4, f.product(t, productID).StockQuantity)
}

func TestReconcile_CacheReportsInFlight(t *testing.T) {
	cache := newMemoryCache()
	f := newFixture(t, cache)
	order, _ := f.placeOrder(t, 1, 5)
	intent := initiate(t, f, order, domain.PaymentMethodCard)
	cache.state["card:"+intent+":succeeded"] = "processing"

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()
	reconciler := NewWebhookReconciler(f.store, cache, NewInventoryService(logger, nil), f.events, logger, metrics)

	_, err := reconciler.Reconcile(context.Background(), domain.Callback{Provider: domain.PaymentMethodCard, TransactionID: intent, Outcome: domain.OutcomeSucceeded})
	require.ErrorIs(t, err, domain.ErrCallbackInFlight)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookCallbacks.WithLabelValues("card", "in_flight")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.WebhookCallbacks.WithLabelValues("card", "duplicate")))
}

func TestReconcile_CacheReleasedOnUnknown(t *testing.T) {
	cache := newMemoryCache()
	f := newFixture(t, cache)

	_, err := f.reconciler.Reconcile(context.Background(), domain.Callback{Provider: domain.PaymentMethodCard, TransactionID: "pi_nobody", Outcome: domain.OutcomeSucceeded})
	require.ErrorIs(t, err, domain.ErrUnknownCallback)
	assert.Empty(t, cache.state)
}
