// Package locks provides a narrow distributed-lock primitive used only to
// serialize the tier-pool cache rebuild on startup (see internal/cache).
// Session and matchmaker state never uses this package: spec.md §5 rules
// out horizontal sharding of session state, so that serialization is
// in-process (sync.Mutex / per-session mutex), not Redis-backed.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout     = errors.New("timeout acquiring lock")
	ErrLockNotHeld     = errors.New("lock not held by this instance")
	ErrLockAlreadyHeld = errors.New("lock already held by another instance")
)

const (
	DefaultLockTTL        = 30 * time.Second
	DefaultAcquireTimeout = 5 * time.Second
	DefaultRetryAttempts  = 3
	OrphanedLockAge       = 60 * time.Second
)

// LockManager hands out short-lived Redis locks.
type LockManager struct {
	redis      *redis.Client
	instanceID string
}

// Lock represents a held distributed lock.
type Lock struct {
	key        string
	value      string
	manager    *LockManager
	ttl        time.Duration
	acquiredAt time.Time
}

// NewLockManager creates a lock manager bound to a fresh instance id.
func NewLockManager(redisClient *redis.Client) *LockManager {
	return &LockManager{redis: redisClient, instanceID: uuid.New().String()}
}

// AcquireLock attempts to take the named lock using SET NX EX, retrying
// with exponential backoff and cleaning up orphaned holders it encounters
// along the way.
func (lm *LockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl == 0 {
		ttl = DefaultLockTTL
	}

	acquireCtx, cancel := context.WithTimeout(ctx, DefaultAcquireTimeout)
	defer cancel()

	lockValue := fmt.Sprintf("%s:%s", lm.instanceID, uuid.New().String())
	lockKey := fmt.Sprintf("lock:%s", key)

	var lastErr error
	for attempt := 0; attempt < DefaultRetryAttempts; attempt++ {
		select {
		case <-acquireCtx.Done():
			return nil, ErrLockTimeout
		default:
		}

		acquired, err := lm.redis.SetNX(acquireCtx, lockKey, lockValue, ttl).Result()
		if err != nil {
			lastErr = fmt.Errorf("redis error: %w", err)
			log.Printf("[LOCK] redis error acquiring %s (attempt %d/%d): %v", lockKey, attempt+1, DefaultRetryAttempts, err)
			time.Sleep(lm.backoff(attempt))
			continue
		}

		if acquired {
			return &Lock{key: lockKey, value: lockValue, manager: lm, ttl: ttl, acquiredAt: time.Now()}, nil
		}

		if err := lm.cleanOrphaned(acquireCtx, lockKey); err != nil {
			log.Printf("[LOCK] orphan check failed for %s: %v", lockKey, err)
		}
		lastErr = ErrLockAlreadyHeld

		select {
		case <-acquireCtx.Done():
			return nil, ErrLockTimeout
		case <-time.After(lm.backoff(attempt)):
		}
	}

	if lastErr == nil {
		lastErr = ErrLockTimeout
	}
	return nil, lastErr
}

// Release drops the lock if still owned by this holder's token, via a
// check-and-delete Lua script so an expired-then-reacquired lock is never
// deleted out from under its new owner.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return ErrLockNotHeld
	}
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	result, err := script.Run(ctx, l.manager.redis, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == int64(0) {
		return ErrLockNotHeld
	}
	return nil
}

func (lm *LockManager) cleanOrphaned(ctx context.Context, lockKey string) error {
	idleTime, err := lm.redis.ObjectIdleTime(ctx, lockKey).Result()
	if err != nil {
		return nil
	}
	if time.Duration(idleTime.Seconds())*time.Second > OrphanedLockAge {
		if _, err := lm.redis.Del(ctx, lockKey).Result(); err != nil {
			return fmt.Errorf("failed to delete orphaned lock: %w", err)
		}
		log.Printf("[LOCK] cleaned orphaned lock %s", lockKey)
	}
	return nil
}

// CleanupOrphanedLocks sweeps all lock:* keys on startup.
func (lm *LockManager) CleanupOrphanedLocks(ctx context.Context) (int, error) {
	keys, err := lm.redis.Keys(ctx, "lock:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list locks: %w", err)
	}
	cleaned := 0
	for _, key := range keys {
		if err := lm.cleanOrphaned(ctx, key); err != nil {
			continue
		}
		if exists, _ := lm.redis.Exists(ctx, key).Result(); exists == 0 {
			cleaned++
		}
	}
	return cleaned, nil
}

func (lm *LockManager) backoff(attempt int) time.Duration {
	d := time.Duration(500*(1<<attempt)) * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
