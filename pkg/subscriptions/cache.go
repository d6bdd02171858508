package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
)

const (
	cacheKeyPrefix  = "lumenchat:subscription:"
	defaultCacheTTL = 5 * time.Minute
	localCacheSize  = 10000
)

// CachedStore wraps a Store with a small in-process LRU and Redis. Reads fall
// through cache misses and cache errors to the underlying store; cache
// trouble never fails a read. Writes go straight to the underlying store and
// evict both cache layers.
type CachedStore struct {
	store   Store
	redis   *redis.Client
	local   *lru.LRU[string, *Subscription]
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCachedStore creates a CachedStore. The redis client may be nil, in which
// case only the in-process LRU is used.
func NewCachedStore(store Store, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{
		store:   store,
		redis:   redisClient,
		local:   lru.NewLRU[string, *Subscription](localCacheSize, nil, defaultCacheTTL),
		ttl:     defaultCacheTTL,
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns the cached subscription when present, otherwise reads through
// to the underlying store and populates both cache layers. A missing record
// (ErrNotFound) is not cached.
func (c *CachedStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	if sub, ok := c.local.Get(userID); ok {
		c.metrics.CacheHitsTotal.WithLabelValues("subscription_lru").Inc()
		return sub, nil
	}
	c.metrics.CacheMissesTotal.WithLabelValues("subscription_lru").Inc()

	if c.redis != nil {
		data, err := c.redis.Get(ctx, cacheKeyPrefix+userID).Bytes()
		if err == nil {
			sub := &Subscription{}
			if err := json.Unmarshal(data, sub); err == nil {
				c.metrics.CacheHitsTotal.WithLabelValues("subscription_redis").Inc()
				c.local.Add(userID, sub)
				return sub, nil
			}
			c.logger.WithError(err).WithField("user_id", userID).Warn("Failed to decode cached subscription")
		} else if err != redis.Nil {
			c.logger.WithError(err).Warn("Redis read failed, falling through to store")
		}
		c.metrics.CacheMissesTotal.WithLabelValues("subscription_redis").Inc()
	}

	sub, err := c.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.local.Add(userID, sub)
	if c.redis != nil {
		data, err := json.Marshal(sub)
		if err == nil {
			if err := c.redis.Set(ctx, cacheKeyPrefix+userID, data, c.ttl).Err(); err != nil {
				c.logger.WithError(err).Warn("Redis write failed")
			}
		}
	}

	return sub, nil
}

// Upsert writes through to the underlying store and invalidates the cache
func (c *CachedStore) Upsert(ctx context.Context, sub *Subscription) error {
	if err := c.store.Upsert(ctx, sub); err != nil {
		return err
	}
	return c.Invalidate(ctx, sub.UserID)
}

// Update writes through to the underlying store and invalidates the cache
func (c *CachedStore) Update(ctx context.Context, userID string, fields UpdateFields) error {
	if err := c.store.Update(ctx, userID, fields); err != nil {
		return err
	}
	return c.Invalidate(ctx, userID)
}

// CustomerID reads through to the underlying store. The customer ID is only
// needed on the billing paths, which are rare, so it is not cached.
func (c *CachedStore) CustomerID(ctx context.Context, userID string) (string, error) {
	return c.store.CustomerID(ctx, userID)
}

// CountActiveByTier reads through to the underlying store
func (c *CachedStore) CountActiveByTier(ctx context.Context) (map[plans.Tier]int64, error) {
	return c.store.CountActiveByTier(ctx)
}

// Invalidate evicts the user's record from both cache layers. The underlying
// store already holds the new state, so a failed eviction is returned to the
// caller rather than swallowed: a stale cache entry here means stale
// entitlements for up to the TTL.
func (c *CachedStore) Invalidate(ctx context.Context, userID string) error {
	c.local.Remove(userID)
	if c.redis != nil {
		if err := c.redis.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
			return fmt.Errorf("failed to invalidate cached subscription: %w", err)
		}
	}
	return nil
}
