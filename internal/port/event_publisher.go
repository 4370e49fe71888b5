package port

import (
	"context"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

type EventPublisher interface {
	// Publish emits an order event, best effort
	Publish(ctx context.Context, event domain.OrderEvent) error
}
