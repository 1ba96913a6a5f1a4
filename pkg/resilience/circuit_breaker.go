package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/timers"
)

// RateLimitError is returned by vendor adapters when the provider answers 429.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message == "" {
		return e.Provider + ": rate limited"
	}
	if e.Provider == "" {
		return e.Message
	}
	return e.Provider + ": " + e.Message
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// CircuitBreaker opens after threshold consecutive rate-limit failures and stays open
// for cooldown. Other errors neither count nor reset the streak.
type CircuitBreaker struct {
	mu        sync.Mutex
	clock     timers.Clock
	streak    int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithClock(threshold, cooldown, nil)
}

func NewCircuitBreakerWithClock(threshold int, cooldown time.Duration, clock timers.Clock) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if clock == nil {
		clock = timers.RealClock{}
	}
	return &CircuitBreaker{clock: clock, threshold: threshold, cooldown: cooldown}
}

func (c *CircuitBreaker) Allow() bool {
	return c.State() == BreakerClosed
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock.Now().Before(c.openUntil) {
		return BreakerOpen
	}
	return BreakerClosed
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.streak = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

// OnError reports whether this failure tripped the breaker.
func (c *CircuitBreaker) OnError(err error) bool {
	if !IsRateLimit(err) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streak++
	if c.streak < c.threshold {
		return false
	}
	c.streak = 0
	c.openUntil = c.clock.Now().Add(c.cooldown)
	return true
}
