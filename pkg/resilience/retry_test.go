package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/timers"
)

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 failing calls, got %d err=%v", calls, err)
	}
}

func TestRetryPolicyHonorsCancel(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, Backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := policy.Do(ctx, func(context.Context) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.OnError(errors.New("plain"))
	cb.OnError(RateLimitError{Provider: "x"})
	if !cb.Allow() {
		t.Fatalf("breaker should stay closed below threshold")
	}
	cb.OnError(RateLimitError{Provider: "x"})
	if cb.Allow() {
		t.Fatalf("breaker should open at threshold")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("success should close the breaker")
	}
}

func TestCircuitBreakerClosesAfterCooldown(t *testing.T) {
	clock := timers.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	cb := NewCircuitBreakerWithClock(1, 30*time.Second, clock)
	if !cb.OnError(RateLimitError{Provider: "x"}) {
		t.Fatalf("expected the first rate limit to trip a threshold-1 breaker")
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	clock.Advance(29 * time.Second)
	if cb.Allow() {
		t.Fatalf("breaker closed before cooldown")
	}
	clock.Advance(time.Second)
	if cb.State() != BreakerClosed {
		t.Fatalf("expected closed after cooldown, got %s", cb.State())
	}
}

func TestRetryPolicyStopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("bad request")
	policy := RetryPolicy{
		MaxRetries: 5,
		Backoff:    time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, fatal) },
	}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected one attempt with the fatal error, got %d calls err=%v", calls, err)
	}
}
