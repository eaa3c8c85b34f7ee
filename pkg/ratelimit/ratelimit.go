// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit throttles repeated attempts per profile, such as unlock
// attempts or backup imports with a guessed passphrase.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements a token bucket rate limiter with per-key tracking.
// It uses the golang.org/x/time/rate package for the buckets.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	enabled  bool
	now      func() time.Time

	// Cleanup settings
	cleanupInterval time.Duration
	maxIdle         time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// AttemptsPerMinute sets the sustained rate limit.
	AttemptsPerMinute int

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to AttemptsPerMinute.
	Burst int

	// CleanupInterval controls how often to remove idle keys.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration

	// MaxIdle is how long a key can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// New creates a new rate limiter with the given configuration. When enabled,
// a background goroutine evicts idle keys until Stop is called.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: false}
	}

	burst := config.Burst
	if burst == 0 {
		burst = config.AttemptsPerMinute
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	now := config.Clock
	if now == nil {
		now = time.Now
	}

	l := &Limiter{
		limiters:        make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		rate:            rate.Limit(float64(config.AttemptsPerMinute) / 60.0),
		burst:           burst,
		enabled:         config.Enabled,
		now:             now,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

// getLimiter returns the bucket for key, creating it if needed.
func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}

	l.lastSeen[key] = l.now()
	return limiter
}

// Allow reports whether an attempt for key is within the limit and consumes
// a token if so.
func (l *Limiter) Allow(key string) bool {
	if l == nil || !l.enabled {
		return true
	}
	return l.getLimiter(key).AllowN(l.now(), 1)
}

// Reset forgets the bucket for key. Callers reset after a successful
// attempt so that only failures count against the budget.
func (l *Limiter) Reset(key string) {
	if l == nil || !l.enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.limiters, key)
	delete(l.lastSeen, key)
}

// cleanupWorker periodically removes idle keys from memory.
func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes keys that haven't made attempts recently.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop stops the cleanup worker. It is safe to call more than once.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// IsEnabled returns whether rate limiting is enabled.
func (l *Limiter) IsEnabled() bool {
	return l != nil && l.enabled
}
