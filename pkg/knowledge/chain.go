package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/logging"
)

// Chain asks each retriever in turn and returns the first non-empty result.
type Chain struct {
	retrievers []dialogue.Retriever
	logger     *slog.Logger
}

func NewChain(logger *slog.Logger, retrievers ...dialogue.Retriever) *Chain {
	out := make([]dialogue.Retriever, 0, len(retrievers))
	for _, r := range retrievers {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Chain{retrievers: out, logger: logging.NewComponentLogger(logger, "knowledge")}
}

// Retrieve never fails: errors from individual retrievers are logged and skipped.
func (c *Chain) Retrieve(ctx context.Context, query string, phase dialogue.Phase) (string, error) {
	for _, r := range c.retrievers {
		if ctx.Err() != nil {
			return "", nil
		}
		text, err := r.Retrieve(ctx, query, phase)
		if err != nil {
			c.logger.Warn("retriever_failed", slog.String("phase", phase.String()), slog.String("error", err.Error()))
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return "", nil
}
