package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Sounds good. "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewCompleter("key", "")
	c.BaseURL = srv.URL
	text, err := c.Complete(context.Background(), llm.Request{System: "sys", User: "hello", MaxTokens: 40, Temperature: 0.5})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Sounds good." {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != DefaultModel || got.MaxTokens != 40 || got.Temperature != 0.5 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestCompleteMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewCompleter("key", "")
	c.BaseURL = srv.URL
	_, err := c.Complete(context.Background(), llm.Request{User: "x"})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if errorsx.Reason(err) != errorsx.ReasonLLMRateLimit {
		t.Fatalf("unexpected reason %s", errorsx.Reason(err))
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCompleter("key", "")
	c.BaseURL = srv.URL
	_, err := c.Complete(context.Background(), llm.Request{User: "x"})
	if !errorsx.HasReason(err, errorsx.ReasonLLMGenerate) {
		t.Fatalf("expected llm_generate, got %v", err)
	}
}

func TestCompleteHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewCompleter("key", "")
	c.BaseURL = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, llm.Request{User: "x"}); err == nil {
		t.Fatalf("expected error on timeout")
	}
}
