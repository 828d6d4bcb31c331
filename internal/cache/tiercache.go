// Package cache warms the Graph Store's tiered endpoint pools into Redis
// sets at startup, and serves them as the Endpoint Picker's hot path. The
// cache is rebuildable from the relational snapshot at any time and is
// never treated as a source of truth: a cold or missing Redis is a
// degraded mode, not a correctness failure (Endpoint Picker falls back to
// graph.Store.TierPool directly).
package cache

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"connectline/internal/graph"
	"connectline/internal/locks"
	redisClient "connectline/internal/redis"
)

// tierRange expresses a pool tier as a half-open PPR-sum interval over
// player_seasonal_stats, matching spec.md §6.3's difficulty pools.
type tierRange struct {
	name string
	min  float64
	max  float64
}

var tiers = []tierRange{
	{name: "stars", min: 150, max: 1 << 30},
	{name: "starters", min: 75, max: 150},
	{name: "recorded", min: 1, max: 1 << 30},
}

const rebuildLockKey = "tier-pool-rebuild"

// TierCache serves tier -> []playerID sets out of Redis, refreshed from
// the Graph Store snapshot.
type TierCache struct {
	redis *redisClient.Client
	locks *locks.LockManager
	store *graph.Store
}

// New builds a TierCache bound to the given Redis client and Graph Store.
func New(redis *redisClient.Client, lockManager *locks.LockManager, store *graph.Store) *TierCache {
	return &TierCache{redis: redis, locks: lockManager, store: store}
}

// Warm rebuilds every tier set in Redis from the relational snapshot,
// holding the rebuild lock for the duration so at most one process in a
// multi-instance deployment pays the aggregation cost at a time.
func (c *TierCache) Warm(ctx context.Context) error {
	lock, err := c.locks.AcquireLock(ctx, rebuildLockKey, locks.DefaultLockTTL)
	if err != nil {
		log.Printf("[CACHE] rebuild lock not acquired, skipping warm: %v", err)
		return nil
	}
	defer func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			log.Printf("[CACHE] lock release: %v", releaseErr)
		}
	}()

	for _, t := range tiers {
		ids, err := c.store.TierPool(t.min, t.max)
		if err != nil {
			return fmt.Errorf("cache: build tier %s: %w", t.name, err)
		}
		if err := c.replaceTierSet(ctx, t.name, ids); err != nil {
			return fmt.Errorf("cache: store tier %s: %w", t.name, err)
		}
		log.Printf("[CACHE] tier %s: %d players", t.name, len(ids))
	}
	return nil
}

func (c *TierCache) replaceTierSet(ctx context.Context, tier string, ids []string) error {
	key := tierKey(tier)
	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, key)
	if len(ids) > 0 {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
	}
	pipe.Expire(ctx, key, 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// RandomMembers draws up to n distinct player ids from the named tier's
// Redis set using SRANDMEMBER. Falls back to the relational snapshot
// directly if Redis is unreachable.
func (c *TierCache) RandomMembers(ctx context.Context, tier string, n int) ([]string, error) {
	ids, err := c.redis.SRandMemberN(ctx, tierKey(tier), int64(n)).Result()
	if err != nil {
		log.Printf("[CACHE] redis unavailable for tier %s, falling back to snapshot: %v", tier, err)
		return c.fallback(tier, n)
	}
	if len(ids) == 0 {
		return c.fallback(tier, n)
	}
	return ids, nil
}

func (c *TierCache) fallback(tier string, n int) ([]string, error) {
	for _, t := range tiers {
		if t.name == tier {
			all, err := c.store.TierPool(t.min, t.max)
			if err != nil {
				return nil, err
			}
			if len(all) > n {
				rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
				all = all[:n]
			}
			return all, nil
		}
	}
	return nil, fmt.Errorf("cache: unknown tier %q", tier)
}

func tierKey(tier string) string {
	return "tier:" + tier
}
