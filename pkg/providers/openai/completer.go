package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Completer calls the chat completions endpoint with a system and a user message.
type Completer struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewCompleter(apiKey, model string) *Completer {
	if model == "" {
		model = DefaultModel
	}
	return &Completer{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Completer) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Completer) Complete(ctx context.Context, in llm.Request) (string, error) {
	body, err := c.buildRequest(in)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return "", err
	}
	c.applyHeaders(req)
	resp, err := c.client().Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		b, _ := io.ReadAll(resp.Body)
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: string(b)}, errorsx.ReasonLLMRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", errorsx.Wrap(fmt.Errorf("openai: %s: %s", resp.Status, strings.TrimSpace(string(b))), errorsx.ReasonLLMGenerate)
	}
	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	if len(payload.Choices) == 0 {
		return "", errorsx.Wrap(errors.New("no choices"), errorsx.ReasonLLMGenerate)
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func (c *Completer) buildRequest(in llm.Request) (*bytes.Buffer, error) {
	msgs := make([]chatMessage, 0, 2)
	if in.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: in.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: in.User})
	b, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    msgs,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (c *Completer) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
}

func (c *Completer) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

var _ llm.Completer = (*Completer)(nil)
