package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/llm"
)

const (
	summaryMaxTokens   = 200
	summaryTemperature = 0.3
)

// Summarizer writes the post-call summary stored on the call record.
type Summarizer struct {
	completer llm.Completer
	retry     llm.RetryConfig
}

func NewSummarizer(completer llm.Completer) *Summarizer {
	return &Summarizer{completer: completer, retry: llm.RetryConfig{MaxAttempts: 2}}
}

// Summarize returns an empty summary for an empty transcript without calling the model.
func (s *Summarizer) Summarize(ctx context.Context, transcript []callstate.Utterance) (string, error) {
	if len(transcript) == 0 || s.completer == nil {
		return "", nil
	}
	req := llm.Request{
		System:      "You are summarising a sales discovery call. Be concise and structured.",
		User:        fmt.Sprintf("Call transcript:\n%s\n\nSummarise in 4 bullet points:\n- Current ITSM tool and setup\n- Key pains / gaps\n- Interest in agentic automation / AI agents\n- Next step (if any)\n", TranscriptText(transcript, DefaultAgentName)),
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	}
	text, err := llm.Retry(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("summarize call: %w", err)
	}
	return strings.TrimSpace(text), nil
}
