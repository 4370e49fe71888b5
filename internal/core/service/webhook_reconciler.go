package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	webhookApplied   = "applied"
	webhookNoop      = "noop"
	webhookIgnored   = "ignored"
	webhookDuplicate = "duplicate"
	webhookInFlight  = "in_flight"
	webhookUnknown   = "unknown"
	webhookError     = "error"
)

type ReconcileResult struct {
	Order *domain.Order

	// Applied is set when the callback moved the order to paid or failed.
	Applied bool

	// Backfilled is set when the order was found through its reference and
	// the transaction id stored on it.
	Backfilled bool

	// Duplicate is set when the delivery was already processed.
	Duplicate bool
}

// WebhookReconciler turns verified provider callbacks into order and stock
// transitions. Replays are absorbed by the pending payment gate; the cache,
// when present, short-circuits them before the database is touched.
type WebhookReconciler struct {
	db        port.DatabaseRepository
	cache     port.CacheRepository
	inventory *InventoryService
	events    port.EventPublisher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewWebhookReconciler accepts a nil cache.
func NewWebhookReconciler(
	db port.DatabaseRepository,
	cache port.CacheRepository,
	inventory *InventoryService,
	events port.EventPublisher,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *WebhookReconciler {
	return &WebhookReconciler{
		db:        db,
		cache:     cache,
		inventory: inventory,
		events:    events,
		logger:    logger,
		metrics:   metrics,
	}
}

func (r *WebhookReconciler) Reconcile(ctx context.Context, cb domain.Callback) (result *ReconcileResult, err error) {
	ctx, done := startUseCase(ctx, r.metrics, useCaseReconcile,
		attribute.String("payment.provider", cb.Provider.String()),
		attribute.String("payment.outcome", cb.Outcome.String()),
	)
	defer func() { done(err) }()

	log := observability.LoggerFromContext(ctx, r.logger).With(
		zap.String("provider", cb.Provider.String()),
		zap.String("transaction_id", cb.TransactionID),
		zap.String("status", cb.RawStatus),
	)

	if cb.TransactionID == "" {
		r.metrics.IncWebhook(cb.Provider.String(), webhookError)
		return nil, fmt.Errorf("%w: transaction id is required", domain.ErrValidation)
	}

	claimKey, claimed, err := r.claim(ctx, log, cb)
	if err != nil {
		r.metrics.IncWebhook(cb.Provider.String(), webhookInFlight)
		log.Info("webhook_in_flight")
		return nil, err
	}
	if claimKey != "" && !claimed {
		r.metrics.IncWebhook(cb.Provider.String(), webhookDuplicate)
		log.Info("webhook_duplicate")
		return &ReconcileResult{Duplicate: true}, nil
	}

	result = &ReconcileResult{}
	err = r.db.WithinTx(ctx, func(ctx context.Context, repo port.Repository) error {
		*result = ReconcileResult{}
		order, backfilled, err := r.resolve(ctx, repo, cb)
		if err != nil {
			return err
		}
		result.Order = order
		result.Backfilled = backfilled

		now := clock()
		switch cb.Outcome {
		case domain.OutcomeSucceeded:
			if order.MarkPaid(now) {
				result.Applied = true
				if err := r.inventory.ConfirmItems(ctx, repo, order.ID, order.Items); err != nil {
					return err
				}
			}
		case domain.OutcomeFailed:
			if order.MarkPaymentFailed(now) {
				result.Applied = true
				if err := r.inventory.ReleaseItems(ctx, repo, order.Items); err != nil {
					return err
				}
			}
		}

		if !result.Applied && !result.Backfilled {
			return nil
		}
		return repo.UpdateOrderState(ctx, order)
	})

	if claimed {
		r.settleClaim(ctx, log, claimKey, err)
	}
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCallback) {
			r.metrics.IncWebhook(cb.Provider.String(), webhookUnknown)
			log.Warn("webhook_unknown_transaction")
		} else {
			r.metrics.IncWebhook(cb.Provider.String(), webhookError)
			log.Error("webhook_reconcile_failed", zap.Error(err))
		}
		return nil, err
	}

	order := result.Order
	switch {
	case result.Applied:
		r.metrics.IncWebhook(cb.Provider.String(), webhookApplied)
		eventType := domain.EventOrderPaid
		if cb.Outcome == domain.OutcomeFailed {
			eventType = domain.EventOrderPaymentFailed
		}
		publish(ctx, r.events, r.logger, eventType, order)
	case cb.Outcome == domain.OutcomeIgnored:
		r.metrics.IncWebhook(cb.Provider.String(), webhookIgnored)
	default:
		r.metrics.IncWebhook(cb.Provider.String(), webhookNoop)
	}

	log.Info("webhook_reconciled",
		zap.Int64("order_id", order.ID),
		zap.String("outcome", cb.Outcome.String()),
		zap.String("payment_status", string(order.PaymentStatus)),
		zap.Bool("applied", result.Applied),
		zap.Bool("backfilled", result.Backfilled),
	)
	return result, nil
}

// claim reserves the delivery in the cache. An empty key means no claim was
// attempted. Cache failures fall through to the database gate.
func (r *WebhookReconciler) claim(ctx context.Context, log *zap.Logger, cb domain.Callback) (string, bool, error) {
	if r.cache == nil || cb.Outcome == domain.OutcomeIgnored {
		return "", false, nil
	}

	key := fmt.Sprintf("%s:%s:%s", cb.Provider, cb.TransactionID, cb.Outcome)
	res, err := r.cache.ClaimDelivery(ctx, key)
	if err != nil {
		log.Warn("webhook_claim_unavailable", zap.Error(err))
		return "", false, nil
	}

	switch res {
	case port.ClaimAcquired:
		return key, true, nil
	case port.ClaimDuplicate:
		return key, false, nil
	default:
		return key, false, domain.ErrCallbackInFlight
	}
}

func (r *WebhookReconciler) settleClaim(ctx context.Context, log *zap.Logger, key string, processErr error) {
	var err error
	if processErr == nil {
		err = r.cache.CompleteDelivery(ctx, key)
	} else {
		err = r.cache.ReleaseDelivery(ctx, key)
	}
	if err != nil {
		log.Warn("webhook_claim_settle_failed", zap.Error(err))
	}
}

// resolve finds the order by its stored transaction id, then by an order
// reference embedded in the callback. The second path only matches orders
// already initiated with this provider whose transaction id was never
// stored, and stores it.
func (r *WebhookReconciler) resolve(ctx context.Context, repo port.Repository, cb domain.Callback) (*domain.Order, bool, error) {
	order, err := repo.LockOrderByCorrelation(ctx, cb.Provider, cb.TransactionID)
	if err == nil {
		return order, false, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return nil, false, err
	}

	for _, ref := range cb.References {
		orderID, ok := domain.ParseOrderReference(ref)
		if !ok {
			continue
		}
		order, err := repo.LockOrder(ctx, orderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if order.PaymentMethod != cb.Provider {
			continue
		}
		if existing := order.CorrelationID(cb.Provider); existing != "" {
			if existing != cb.TransactionID {
				continue
			}
			return order, false, nil
		}

		order.SetCorrelationID(cb.Provider, cb.TransactionID)
		order.UpdatedAt = clock()
		return order, true, nil
	}
	return nil, false, domain.ErrUnknownCallback
}
