package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

type PaymentResult struct {
	Order      *domain.Order
	Initiation *domain.PaymentInitiation
}

type PaymentService struct {
	db       port.DatabaseRepository
	adapters map[domain.PaymentMethod]port.PaymentAdapter
	events   port.EventPublisher
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewPaymentService fails unless exactly one adapter is given for every
// selectable payment method.
func NewPaymentService(
	db port.DatabaseRepository,
	adapters []port.PaymentAdapter,
	events port.EventPublisher,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*PaymentService, error) {
	byMethod := make(map[domain.PaymentMethod]port.PaymentAdapter, len(adapters))
	for _, a := range adapters {
		m := a.Method()
		if _, dup := byMethod[m]; dup {
			return nil, fmt.Errorf("payment adapter for %s registered twice", m)
		}
		byMethod[m] = a
	}
	for _, m := range domain.SelectablePaymentMethods {
		if _, ok := byMethod[m]; !ok {
			return nil, fmt.Errorf("no payment adapter for %s", m)
		}
	}

	return &PaymentService{
		db:       db,
		adapters: byMethod,
		events:   events,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// InitiatePayment starts a payment for a pending order with no method yet.
// The order row stays locked while the provider is called, so concurrent
// attempts for the same order make a single provider call.
func (s *PaymentService) InitiatePayment(ctx context.Context, userID, orderID int64, method domain.PaymentMethod) (result *PaymentResult, err error) {
	ctx, done := startUseCase(ctx, s.metrics, useCaseInitiatePayment,
		attribute.Int64("order.id", orderID),
		attribute.String("payment.method", method.String()),
	)
	defer func() { done(err) }()

	adapter, ok := s.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported payment method %s", domain.ErrValidation, method)
	}
	log := observability.LoggerFromContext(ctx, s.logger)

	// Kept across transaction retries so the provider is never called twice.
	var initiation *domain.PaymentInitiation
	var order *domain.Order

	err = s.db.WithinTx(ctx, func(ctx context.Context, repo port.Repository) error {
		o, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.IsOwnedBy(userID) {
			return domain.ErrOrderNotFound
		}
		if err := o.CanInitiatePayment(); err != nil {
			return err
		}
		if !adapter.Configured() {
			return fmt.Errorf("%w: %s is not configured", domain.ErrProviderUnavailable, method)
		}

		if initiation == nil {
			init, err := adapter.Initiate(ctx, o)
			if err != nil {
				log.Error("payment_initiation_failed",
					zap.Int64("order_id", o.ID),
					zap.String("payment_method", method.String()),
					zap.Error(err),
				)
				return fmt.Errorf("%w: %s: %v", domain.ErrProviderFailure, method, err)
			}
			initiation = init
		}

		if err := o.AssignPayment(initiation, clock()); err != nil {
			return err
		}
		if err := repo.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		if initiation != nil && initiation.CorrelationID != "" {
			log.Warn("payment_initiation_not_persisted",
				zap.Int64("order_id", orderID),
				zap.String("payment_method", method.String()),
				zap.String("correlation_id", initiation.CorrelationID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	log.Info("payment_initiated",
		zap.Int64("order_id", order.ID),
		zap.String("payment_method", method.String()),
		zap.String("correlation_id", initiation.CorrelationID),
	)
	publish(ctx, s.events, s.logger, domain.EventOrderPaymentInitiated, order)
	return &PaymentResult{Order: order, Initiation: initiation}, nil
}

// BankDetails returns the transfer instructions of a bank transfer order and
// nil for any other method.
func (s *PaymentService) BankDetails(order *domain.Order) *domain.BankDetails {
	if order.PaymentMethod != domain.PaymentMethodBankTransfer {
		return nil
	}
	provider, ok := s.adapters[domain.PaymentMethodBankTransfer].(port.BankDetailsProvider)
	if !ok {
		return nil
	}
	return provider.BankDetails(order)
}
