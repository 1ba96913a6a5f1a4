package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

// CircuitBreakerCompleter stops calling a rate-limited model until the cooldown ends.
// While open, Complete fails fast with ReasonLLMCircuitOpen and the responder falls
// back to a neutral line.
type CircuitBreakerCompleter struct {
	inner   Completer
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer

	mu      sync.Mutex
	tripped bool
}

func NewCircuitBreakerCompleter(inner Completer, breaker *resilience.CircuitBreaker) *CircuitBreakerCompleter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerCompleter{inner: inner, breaker: breaker}
}

func (c *CircuitBreakerCompleter) Name() string { return c.inner.Name() }

func (c *CircuitBreakerCompleter) SetObserver(obs metrics.Observer) { c.obs = obs }

func (c *CircuitBreakerCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if !c.breaker.Allow() {
		c.record(metrics.EventBreakerDenied)
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: c.Name(), Message: "circuit open"}, errorsx.ReasonLLMCircuitOpen)
	}
	c.recovered()
	text, err := c.inner.Complete(ctx, req)
	if err != nil {
		if resilience.IsRateLimit(err) {
			c.record(metrics.EventRateLimit)
		}
		if c.breaker.OnError(err) {
			c.mu.Lock()
			c.tripped = true
			c.mu.Unlock()
			c.record(metrics.EventBreakerOpen)
		}
		return "", err
	}
	c.breaker.OnSuccess()
	return text, nil
}

// recovered emits breaker_close once for the first call let through after a trip.
func (c *CircuitBreakerCompleter) recovered() {
	c.mu.Lock()
	was := c.tripped
	c.tripped = false
	c.mu.Unlock()
	if was {
		c.record(metrics.EventBreakerClose)
	}
}

func (c *CircuitBreakerCompleter) record(name string) {
	metrics.Emit(c.obs, name, map[string]string{
		"provider":  c.inner.Name(),
		"component": "llm",
	})
}
