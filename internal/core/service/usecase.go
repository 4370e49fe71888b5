package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	useCasePlaceOrder      = "order.place"
	useCaseGetOrder        = "order.get"
	useCaseListOrders      = "order.list"
	useCaseCancelOrder     = "order.cancel"
	useCasePreviewCoupon   = "coupon.preview"
	useCaseInitiatePayment = "payment.initiate"
	useCaseReconcile       = "payment.reconcile"

	outcomeOK = "ok"
)

var clock = func() time.Time { return time.Now().UTC() }

// startUseCase opens a span for the use case and returns the function that
// closes it and records the outcome.
func startUseCase(ctx context.Context, metrics *observability.Metrics, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := observability.Tracer().Start(ctx, "UC."+name, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error) {
		outcome := outcomeOK
		if err != nil {
			outcome = domain.Classify(err).String()
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		observability.EndSpan(span, err)
		metrics.ObserveUseCase(name, outcome, time.Since(start))
	}
}

// publish emits an order event without failing the caller.
func publish(ctx context.Context, events port.EventPublisher, logger *zap.Logger, t domain.EventType, order *domain.Order) {
	if events == nil {
		return
	}
	event := domain.NewOrderEvent(t, order, uuid.NewString(), clock())
	if err := events.Publish(ctx, event); err != nil {
		observability.LoggerFromContext(ctx, logger).Warn("event_publish_failed",
			zap.String("event_type", string(t)),
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
}
