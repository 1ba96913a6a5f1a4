package callbridge

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/callbridge/pkg/configutil"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Backend       string              `mapstructure:"backend"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Dialogue      DialogueConfig      `mapstructure:"dialogue"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Session       SessionConfig       `mapstructure:"session"`
	CallState     CallStateConfig     `mapstructure:"callstate"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge"`
	Events        EventsConfig        `mapstructure:"events"`
	Summary       SummaryConfig       `mapstructure:"summary"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
	// Live is the bimodal provider; only required when backend is bimodal.
	Live VendorConfig `mapstructure:"live"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type AgentConfig struct {
	Name    string `mapstructure:"name"`
	Company string `mapstructure:"company"`
}

type TurnConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
}

type DialogueConfig struct {
	LLMTimeoutMS       int     `mapstructure:"llm_timeout_ms"`
	RetrievalTimeoutMS int     `mapstructure:"retrieval_timeout_ms"`
	MaxReplyChars      int     `mapstructure:"max_reply_chars"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	Temperature        float64 `mapstructure:"temperature"`
}

type PlaybackConfig struct {
	FrameBytes int `mapstructure:"frame_bytes"`
	IntervalMS int `mapstructure:"interval_ms"`
}

type SynthesisConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
}

type SessionConfig struct {
	GraceMS          int `mapstructure:"grace_ms"`
	PersistTimeoutMS int `mapstructure:"persist_timeout_ms"`
	HangupTimeoutMS  int `mapstructure:"hangup_timeout_ms"`
	DrainTimeoutMS   int `mapstructure:"drain_timeout_ms"`
}

type CallStateConfig struct {
	Provider  string        `mapstructure:"provider"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	Password  string        `mapstructure:"password"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type KnowledgeConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
	Limit   int    `mapstructure:"limit"`
}

type EventsConfig struct {
	Provider    string `mapstructure:"provider"`
	URL         string `mapstructure:"url"`
	Exchange    string `mapstructure:"exchange"`
	DialRetries int    `mapstructure:"dial_retries"`
	Producer    string `mapstructure:"producer"`
}

type SummaryConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	TimeoutMS int  `mapstructure:"timeout_ms"`
}

type BreakerConfig struct {
	Threshold  int `mapstructure:"threshold"`
	CooldownMS int `mapstructure:"cooldown_ms"`
}

type ObservabilityConfig struct {
	// MetricsPath receives every metric event as JSONL. Empty disables it.
	MetricsPath string  `mapstructure:"metrics_path"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Buffer      int     `mapstructure:"buffer"`
	// ArtifactsDir holds per-call timelines and reports.
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("backend", "composed")
	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("agent.name", "Alex")
	v.SetDefault("agent.company", "")
	v.SetDefault("turn.debounce_ms", 800)
	v.SetDefault("dialogue.llm_timeout_ms", 5000)
	v.SetDefault("dialogue.retrieval_timeout_ms", 800)
	v.SetDefault("dialogue.max_reply_chars", 500)
	v.SetDefault("dialogue.max_tokens", 40)
	v.SetDefault("dialogue.temperature", 0.5)
	v.SetDefault("playback.frame_bytes", 160)
	v.SetDefault("playback.interval_ms", 20)
	v.SetDefault("synthesis.timeout_ms", 10000)
	v.SetDefault("session.grace_ms", 5000)
	v.SetDefault("session.persist_timeout_ms", 2000)
	v.SetDefault("session.hangup_timeout_ms", 5000)
	v.SetDefault("session.drain_timeout_ms", 30000)
	v.SetDefault("callstate.provider", "memory")
	v.SetDefault("callstate.prefix", "callbridge")
	v.SetDefault("callstate.ttl", "1h")
	v.SetDefault("knowledge.migrate", true)
	v.SetDefault("knowledge.limit", 3)
	v.SetDefault("events.provider", "nop")
	v.SetDefault("events.exchange", "calls")
	v.SetDefault("events.dial_retries", 5)
	v.SetDefault("events.producer", DefaultProducer)
	v.SetDefault("summary.enabled", true)
	v.SetDefault("summary.timeout_ms", 30000)
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.cooldown_ms", 30000)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.buffer", 1024)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if err := configutil.OneOf(c.Backend, "backend", "composed", "bimodal"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	switch c.BackendMode() {
	case "bimodal":
		if strings.TrimSpace(c.Vendors.Live.Provider) == "" {
			return fmt.Errorf("vendors.live.provider is required for the bimodal backend")
		}
	default:
		if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
			return fmt.Errorf("vendors.stt.provider is required")
		}
		if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
			return fmt.Errorf("vendors.tts.provider is required")
		}
	}
	// The completer also writes post-call summaries, so it is needed in both modes.
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" && (c.BackendMode() == "composed" || c.Summary.Enabled) {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if err := configutil.OneOf(c.CallState.Provider, "callstate.provider", "memory", "redis"); err != nil {
		return err
	}
	if c.CallStateMode() == "redis" && strings.TrimSpace(c.CallState.RedisAddr) == "" {
		return fmt.Errorf("callstate.redis_addr is required for the redis store")
	}
	if err := configutil.OneOf(c.Events.Provider, "events.provider", "nop", "amqp"); err != nil {
		return err
	}
	if strings.EqualFold(c.Events.Provider, "amqp") && strings.TrimSpace(c.Events.URL) == "" {
		return fmt.Errorf("events.url is required for the amqp publisher")
	}
	if c.Playback.FrameBytes < 0 || c.Playback.IntervalMS < 0 {
		return fmt.Errorf("playback settings must not be negative")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate)
	}
	return nil
}

func (c *Config) BackendMode() string {
	return strings.ToLower(strings.TrimSpace(c.Backend))
}

func (c *Config) CallStateMode() string {
	return strings.ToLower(strings.TrimSpace(c.CallState.Provider))
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.Live.Settings = expandSettings(cfg.Vendors.Live.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

// expandValue rewrites ${VAR} references in every settable string field.
func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
