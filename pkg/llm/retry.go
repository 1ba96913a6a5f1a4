package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harunnryd/callbridge/pkg/resilience"
)

// RetryConfig applies to completions that can afford to wait, such as the post-call
// summary. Live replies never retry: the responder falls back instead.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	IsRetryable func(error) bool
}

func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (string, error)) (string, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	policy := resilience.RetryPolicy{
		MaxRetries: cfg.MaxAttempts - 1,
		Backoff:    cfg.Backoff,
		MaxBackoff: 2 * time.Second,
		Retryable:  cfg.IsRetryable,
	}
	var text string
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = fn(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("llm retry failed: %w", err)
	}
	return text, nil
}

// DefaultIsRetryable retries everything except cancellation and rate limiting.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !resilience.IsRateLimit(err)
}
