// Package ratelimit provides client-side throttling for gateway calls using a token bucket algorithm.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/docsim/docsim-client/internal/constants"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	name          string
	tokens        float64   // Current number of tokens available
	maxTokens     float64   // Maximum bucket capacity
	refillRate    float64   // Tokens added per second
	lastRefill    time.Time // Last time tokens were refilled
	lastWarnTime  time.Time // Last time we warned user about rate limiting
	cooldownUntil time.Time // Set when the gateway answers 429
	mu            sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added (e.g., 3.0 for 3 tokens/second)
//   - burstSize: Maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

func newNamed(name string, rate, burst float64) *RateLimiter {
	rl := NewRateLimiter(rate, burst)
	rl.name = name
	return rl
}

// NewSubmitRateLimiter throttles document submissions and simulation launches.
// Each submission uploads a whole document and starts backend work, so the
// budget is small: see SubmitRatePerSec and SubmitBurstCapacity.
func NewSubmitRateLimiter() *RateLimiter {
	return newNamed("submit", SubmitRatePerSec, SubmitBurstCapacity)
}

// NewStatusRateLimiter throttles status and simulation-status polls.
// A single poller issues one call every two seconds; the budget leaves room
// for several concurrent pollers plus one-shot status commands.
func NewStatusRateLimiter() *RateLimiter {
	return newNamed("status", StatusRatePerSec, StatusBurstCapacity)
}

// NewDownloadRateLimiter throttles artifact download requests (not bytes).
func NewDownloadRateLimiter() *RateLimiter {
	return newNamed("download", DownloadRatePerSec, DownloadBurstCapacity)
}

// Wait blocks until a token is available or context is cancelled.
// Returns an error if the context is cancelled before a token becomes available.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	startTime := time.Now()

	if rl.tryAcquire() {
		return nil
	}

	waitTime := rl.timeUntilNextToken()
	if waitTime > constants.RateLimitWarningThreshold {
		rl.mu.Lock()
		if time.Since(rl.lastWarnTime) > constants.RateLimitWarningInterval {
			log.Printf("Rate limited (%s): waiting ~%.1fs for gateway capacity...", rl.name, waitTime.Seconds())
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if rl.tryAcquire() {
			if actualWait := time.Since(startTime); actualWait > 5*time.Second {
				log.Printf("Rate limit wait (%s) completed after %.1fs", rl.name, actualWait.Seconds())
			}
			return nil
		}

		waitDuration := rl.timeUntilNextToken()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
		}
	}
}

// SetCooldown blocks all acquisitions for d. A later cooldown never shortens an earlier one.
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(rl.cooldownUntil) {
		rl.cooldownUntil = until
	}
}

// tryAcquire attempts to acquire one token without blocking.
// Returns true if a token was acquired, false otherwise.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Before(rl.cooldownUntil) {
		return false
	}

	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate

	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}

	return false
}

// timeUntilNextToken calculates how long to wait until at least one token is available.
func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if remaining := time.Until(rl.cooldownUntil); remaining > 0 {
		return remaining
	}

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 {
		return 0
	}

	secondsNeeded := tokensNeeded / rl.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	elapsed := time.Since(rl.lastRefill).Seconds()
	tokens := rl.tokens + (elapsed * rl.refillRate)

	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}

	return tokens
}
