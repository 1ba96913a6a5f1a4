package llm

import "context"

// Request is a single-shot chat completion.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completer produces one reply for a system/user prompt pair.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Name() string { return "func" }

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
