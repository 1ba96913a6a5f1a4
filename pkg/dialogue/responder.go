package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/redact"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultRetrievalTimeout = 800 * time.Millisecond
	DefaultMaxTokens        = 40
	DefaultTemperature      = 0.5
)

var (
	fallbackIT = []string{
		"I hear you. Can you tell me more about that?",
		"That's interesting. What's been your experience?",
		"Got it. How's that been working for you?",
		"I understand. What would make it better?",
	}
	fallbackHR = []string{
		"I hear you. Can you tell me more about your HR processes?",
		"That's interesting. What's been your experience with HR management?",
		"Got it. How's that been working for your team?",
		"I understand. What would make HR easier for you?",
	}
)

// FallbackReplies returns the neutral lines used when the model is unavailable.
func FallbackReplies(hr bool) []string {
	if hr {
		return append([]string(nil), fallbackHR...)
	}
	return append([]string(nil), fallbackIT...)
}

// Retriever fetches knowledge context for a turn. An empty result means nothing relevant.
type Retriever interface {
	Retrieve(ctx context.Context, query string, phase Phase) (string, error)
}

type RetrieverFunc func(ctx context.Context, query string, phase Phase) (string, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string, phase Phase) (string, error) {
	return f(ctx, query, phase)
}

type ResponderConfig struct {
	Timeout          time.Duration
	RetrievalTimeout time.Duration
	MaxTokens        int
	Temperature      float64
	MaxReplyChars    int
	AgentName        string
	Company          string
	// Seed fixes fallback selection; zero seeds from the clock.
	Seed int64
}

// ReplyInput is one completed prospect turn in the context of its call.
type ReplyInput struct {
	Phase         Phase
	Lead          callstate.Lead
	Transcript    []callstate.Utterance
	Latest        string
	Confidence    float64
	HasConfidence bool
}

type Reply struct {
	Text     string
	Phase    Phase
	Fallback bool
}

// Responder turns a prospect turn into the agent's next line.
type Responder struct {
	completer llm.Completer
	retriever Retriever
	prompter  *Prompter
	cfg       ResponderConfig
	logger    *slog.Logger
	obs       metrics.Observer

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewResponder(completer llm.Completer, retriever Retriever, cfg ResponderConfig, logger *slog.Logger) *Responder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = DefaultRetrievalTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxReplyChars <= 0 {
		cfg.MaxReplyChars = DefaultMaxReplyChars
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Responder{
		completer: completer,
		retriever: retriever,
		prompter:  NewPrompter(cfg.AgentName, cfg.Company),
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "dialogue"),
		obs:       metrics.NoopObserver{},
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

func (r *Responder) SetObserver(obs metrics.Observer) {
	if obs != nil {
		r.obs = obs
	}
}

func (r *Responder) Prompter() *Prompter { return r.prompter }

// Reply builds the prompt, calls the model and sanitizes the result. Retrieval and the
// completion share one reply timeout. Model failures produce a fallback line. Cancellation
// of ctx by the caller is returned as an error since nobody is left to hear the reply.
func (r *Responder) Reply(ctx context.Context, in ReplyInput) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	hr := IsHRScript(in.Lead.Script)
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	start := time.Now()

	knowledge := r.retrieve(cctx, in)
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	prompt := r.prompter.Build(PromptInput{
		Phase:         in.Phase,
		Lead:          in.Lead,
		Transcript:    in.Transcript,
		Latest:        in.Latest,
		Confidence:    in.Confidence,
		HasConfidence: in.HasConfidence,
		Knowledge:     knowledge,
	})

	raw, err := r.completer.Complete(cctx, llm.Request{
		System:      prompt.System,
		User:        prompt.User,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		reason := errorsx.ReasonOr(err, errorsx.ReasonLLMGenerate)
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			reason = errorsx.ReasonLLMTimeout
		}
		r.logger.Warn("llm_fallback",
			slog.String("phase", in.Phase.String()),
			slog.String("reason", string(reason)),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		metrics.Emit(r.obs, metrics.EventLLMFallback, map[string]string{
			"phase":  in.Phase.String(),
			"reason": string(reason),
		})
		return Reply{Text: r.fallback(hr), Phase: in.Phase, Fallback: true}, nil
	}

	text := Sanitizer{MaxChars: r.cfg.MaxReplyChars, HR: hr}.Sanitize(raw, in.Phase)
	r.logger.Debug("llm_reply",
		slog.String("phase", in.Phase.String()),
		slog.String("raw", redact.Text(raw)),
		slog.String("reply", redact.Text(text)),
		slog.Duration("elapsed", time.Since(start)))
	return Reply{Text: text, Phase: in.Phase}, nil
}

func (r *Responder) retrieve(ctx context.Context, in ReplyInput) string {
	if r.retriever == nil || strings.TrimSpace(in.Latest) == "" || !WantsKnowledge(in.Phase, in.Latest) {
		return ""
	}
	rctx, cancel := context.WithTimeout(ctx, r.cfg.RetrievalTimeout)
	defer cancel()
	text, err := r.retriever.Retrieve(rctx, in.Latest, in.Phase)
	if err != nil {
		r.logger.Warn("knowledge_retrieval_failed",
			slog.String("phase", in.Phase.String()),
			slog.String("error", err.Error()))
		return ""
	}
	return strings.TrimSpace(text)
}

func (r *Responder) fallback(hr bool) string {
	pool := fallbackIT
	if hr {
		pool = fallbackHR
	}
	r.mu.Lock()
	i := r.rnd.Intn(len(pool))
	r.mu.Unlock()
	return pool[i]
}
