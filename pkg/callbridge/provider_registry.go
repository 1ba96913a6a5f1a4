package callbridge

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/backend"
	"github.com/harunnryd/callbridge/pkg/llm"
)

type STTFactoryBuilder func(cfg Config, logger *slog.Logger) (stt.Factory, error)
type TTSBuilder func(cfg Config, logger *slog.Logger) (tts.Synthesizer, error)
type LLMBuilder func(cfg Config) (llm.Completer, error)
type LiveBuilder func(cfg Config, logger *slog.Logger) (backend.LiveDialer, error)

// ProviderRegistry maps vendor names from the config file to constructors.
type ProviderRegistry struct {
	stt  map[string]STTFactoryBuilder
	tts  map[string]TTSBuilder
	llm  map[string]LLMBuilder
	live map[string]LiveBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:  make(map[string]STTFactoryBuilder),
		tts:  make(map[string]TTSBuilder),
		llm:  make(map[string]LLMBuilder),
		live: make(map[string]LiveBuilder),
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *ProviderRegistry) RegisterSTT(name string, b STTFactoryBuilder) { r.stt[key(name)] = b }
func (r *ProviderRegistry) RegisterTTS(name string, b TTSBuilder)        { r.tts[key(name)] = b }
func (r *ProviderRegistry) RegisterLLM(name string, b LLMBuilder)        { r.llm[key(name)] = b }
func (r *ProviderRegistry) RegisterLive(name string, b LiveBuilder)      { r.live[key(name)] = b }

func (r *ProviderRegistry) BuildSTTFactory(provider string, cfg Config, logger *slog.Logger) (stt.Factory, error) {
	fn := r.stt[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s (have %s)", provider, names(r.stt))
	}
	return fn(cfg, logger)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config, logger *slog.Logger) (tts.Synthesizer, error) {
	fn := r.tts[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s (have %s)", provider, names(r.tts))
	}
	return fn(cfg, logger)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Completer, error) {
	fn := r.llm[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s (have %s)", provider, names(r.llm))
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLive(provider string, cfg Config, logger *slog.Logger) (backend.LiveDialer, error) {
	fn := r.live[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("live provider not registered: %s (have %s)", provider, names(r.live))
	}
	return fn(cfg, logger)
}

func names[T any](m map[string]T) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return "[" + strings.Join(out, ", ") + "]"
}
