package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront-orders/internal/port"
)

const (
	deliveryKeyPrefix   = "webhook:"
	deliveryInFlightTTL = 2 * time.Minute
	deliveryDoneTTL     = 24 * time.Hour

	deliveryProcessing = "processing"
	deliveryDone       = "done"
)

var claimDeliveryScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	redis.call('SET', key, ARGV[2], 'PX', ttl)
	return 0
end

if current == ARGV[3] then
	return 1
end

return 2
`)

type RedisAdapter struct {
	client *redis.Client
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) ClaimDelivery(ctx context.Context, key string) (port.ClaimResult, error) {
	result, err := claimDeliveryScript.Run(ctx, r.client, []string{deliveryKeyPrefix + key}, deliveryInFlightTTL.Milliseconds(), deliveryProcessing, deliveryDone).Int()
	if err != nil {
		return port.ClaimAcquired, fmt.Errorf("claim delivery: %w", err)
	}

	switch result {
	case 0:
		return port.ClaimAcquired, nil
	case 1:
		return port.ClaimDuplicate, nil
	default:
		return port.ClaimInFlight, nil
	}
}

func (r *RedisAdapter) CompleteDelivery(ctx context.Context, key string) error {
	return r.client.Set(ctx, deliveryKeyPrefix+key, deliveryDone, deliveryDoneTTL).Err()
}

func (r *RedisAdapter) ReleaseDelivery(ctx context.Context, key string) error {
	return r.client.Del(ctx, deliveryKeyPrefix+key).Err()
}
