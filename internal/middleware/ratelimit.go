// Package middleware provides per-channel inbound rate limiting, ported
// from the teacher's internal/middleware/ratelimit.go.
package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the token bucket applied per channel.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig matches spec.md's ambient-stack guidance: 10rps,
// burst 20, swept every 5 minutes.
var DefaultRateLimiterConfig = RateLimiterConfig{
	RequestsPerSecond: 10.0,
	BurstSize:         20,
	CleanupInterval:   5 * time.Minute,
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages one token bucket per channel id.
type RateLimiter struct {
	limiters    map[string]*clientLimiter
	mu          sync.RWMutex
	config      RateLimiterConfig
	stopCleanup chan struct{}
}

// NewRateLimiter starts a limiter with a background idle-entry sweep.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		limiters:    make(map[string]*clientLimiter),
		config:      config,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a frame from channelID may proceed.
func (rl *RateLimiter) Allow(channelID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.limiters[channelID]
	if !exists {
		cl = &clientLimiter{
			limiter:  rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
			lastSeen: time.Now(),
		}
		rl.limiters[channelID] = cl
	} else {
		cl.lastSeen = time.Now()
	}
	return cl.limiter.Allow()
}

// Forget drops a channel's limiter state (called on disconnect).
func (rl *RateLimiter) Forget(channelID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, channelID)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	for id, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, id)
		}
	}
}

// Stop halts the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}
