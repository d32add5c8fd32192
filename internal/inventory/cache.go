package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// LowStockCache stores low stock listings in Redis under a version number.
// Bumping the version invalidates every listing at once.
type LowStockCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLowStockCache instantiates the cache helper. A nil client disables caching.
func NewLowStockCache(client *redis.Client, ttl time.Duration) *LowStockCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LowStockCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *LowStockCache) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, shared.LowStockCacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, shared.LowStockCacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, shared.LowStockCacheVersionKey).Int64()
	}
	return ver, err
}

// Fetch returns the cached listing for branchID (0 = all) or fills it with load.
func (c *LowStockCache) Fetch(ctx context.Context, branchID int64, load func(context.Context) ([]BranchStock, error)) ([]BranchStock, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return load(ctx)
	}
	key := shared.LowStockCacheKey(ver, branchID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []BranchStock
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}
	stocks, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(stocks); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return stocks, nil
}

// Bump invalidates the cache by incrementing the version.
func (c *LowStockCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, shared.LowStockCacheVersionKey).Err()
}
