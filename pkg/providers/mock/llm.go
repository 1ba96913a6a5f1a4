package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/callbridge/pkg/llm"
)

type LLMConfig struct {
	// Replies are returned in order, the last one repeating.
	Replies []string
}

// Completer answers without a network call.
type Completer struct {
	cfg LLMConfig

	mu    sync.Mutex
	calls int
}

func NewCompleter(cfg LLMConfig) *Completer {
	if len(cfg.Replies) == 0 {
		cfg.Replies = []string{"That makes sense. What are you using for that today?"}
	}
	return &Completer{cfg: cfg}
}

func (c *Completer) Name() string { return "mock_llm" }

func (c *Completer) Complete(ctx context.Context, _ llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.cfg.Replies) {
		i = len(c.cfg.Replies) - 1
	}
	c.calls++
	return c.cfg.Replies[i], nil
}

func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var _ llm.Completer = (*Completer)(nil)
