package port

import "context"

type ClaimResult int

const (
	ClaimAcquired ClaimResult = iota
	ClaimDuplicate
	ClaimInFlight
)

type CacheRepository interface {
	// ClaimDelivery marks a webhook delivery as being processed, reports whether it was already seen
	ClaimDelivery(ctx context.Context, key string) (ClaimResult, error)

	// CompleteDelivery marks a claimed delivery as processed so replays are short-circuited
	CompleteDelivery(ctx context.Context, key string) error

	// ReleaseDelivery drops a claim so the next delivery is processed again
	ReleaseDelivery(ctx context.Context, key string) error
}
