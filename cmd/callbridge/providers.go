package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/backend"
	"github.com/harunnryd/callbridge/pkg/callbridge"
	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/providers/deepgram"
	"github.com/harunnryd/callbridge/pkg/providers/elevenlabs"
	"github.com/harunnryd/callbridge/pkg/providers/gemini"
	"github.com/harunnryd/callbridge/pkg/providers/mock"
	"github.com/harunnryd/callbridge/pkg/providers/openai"
)

type deepgramSettings struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Language       string        `mapstructure:"language"`
	SampleRate     int           `mapstructure:"sample_rate"`
	Encoding       string        `mapstructure:"encoding"`
	Interim        *bool         `mapstructure:"interim"`
	VADEvents      *bool         `mapstructure:"vad_events"`
	Diarize        bool          `mapstructure:"diarize"`
	UtteranceEndMS *int          `mapstructure:"utterance_end_ms"`
	EndpointingMS  *int          `mapstructure:"endpointing_ms"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Backoff        time.Duration `mapstructure:"backoff"`
}

type elevenlabsSettings struct {
	APIKey       string  `mapstructure:"api_key"`
	VoiceID      string  `mapstructure:"voice_id"`
	ModelID      string  `mapstructure:"model_id"`
	OutputFormat string  `mapstructure:"output_format"`
	BaseURL      string  `mapstructure:"base_url"`
	Stability    float64 `mapstructure:"stability"`
	Similarity   float64 `mapstructure:"similarity"`
}

type openAISettings struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	TimeoutMS int           `mapstructure:"timeout_ms"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type geminiSettings struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	Voice  string `mapstructure:"voice"`
}

type mockSTTSettings struct {
	Transcripts []string `mapstructure:"transcripts"`
	EveryBytes  int      `mapstructure:"every_bytes"`
	Confidence  float64  `mapstructure:"confidence"`
}

type mockLLMSettings struct {
	Replies []string `mapstructure:"replies"`
}

func validDeepgramEncoding(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case tts.EncodingPCM16, tts.EncodingMulaw:
		return true
	default:
		return false
	}
}

func registerProviders(reg *callbridge.ProviderRegistry) {
	reg.RegisterSTT("deepgram", func(cfg callbridge.Config, logger *slog.Logger) (stt.Factory, error) {
		var settings deepgramSettings
		if err := configutil.Load("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "vad_events", "diarize", "utterance_end_ms", "endpointing_ms", "queue_size", "max_retries", "backoff"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.Encoding == "" {
			settings.Encoding = tts.EncodingMulaw
		}
		if !validDeepgramEncoding(settings.Encoding) {
			return nil, fmt.Errorf("vendors.stt.settings.encoding must be one of [linear16, mulaw], got %s", settings.Encoding)
		}
		if strings.EqualFold(settings.Encoding, tts.EncodingPCM16) && settings.SampleRate == 0 {
			settings.SampleRate = 16000
		}
		utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1200)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("vendors.stt.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		return deepgram.NewFactory(deepgram.Config{
			APIKey:         settings.APIKey,
			Model:          settings.Model,
			Language:       settings.Language,
			SampleRate:     settings.SampleRate,
			Encoding:       settings.Encoding,
			Interim:        configutil.BoolValue(settings.Interim, false),
			VADEvents:      configutil.BoolValue(settings.VADEvents, true),
			Diarize:        settings.Diarize,
			UtteranceEndMS: utteranceEnd,
			EndpointingMS:  configutil.IntValue(settings.EndpointingMS, 300),
			QueueSize:      settings.QueueSize,
			MaxRetries:     settings.MaxRetries,
			Backoff:        settings.Backoff,
		}, logger), nil
	})

	reg.RegisterSTT("mock", func(cfg callbridge.Config, _ *slog.Logger) (stt.Factory, error) {
		var settings mockSTTSettings
		if err := configutil.Load("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Optional: []string{"transcripts", "every_bytes", "confidence"},
		}, &settings); err != nil {
			return nil, err
		}
		return mock.NewRecognizerFactory(mock.STTConfig{
			Transcripts: settings.Transcripts,
			EveryBytes:  settings.EveryBytes,
			Confidence:  settings.Confidence,
		}), nil
	})

	reg.RegisterTTS("elevenlabs", func(cfg callbridge.Config, logger *slog.Logger) (tts.Synthesizer, error) {
		var settings elevenlabsSettings
		if err := configutil.Load("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "base_url", "stability", "similarity"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.VoiceID, "vendors.tts.settings.voice_id"); err != nil {
			return nil, err
		}
		if settings.OutputFormat != "" {
			if err := configutil.OneOf(settings.OutputFormat, "vendors.tts.settings.output_format", "ulaw_8000", "pcm_16000", "pcm_24000"); err != nil {
				return nil, err
			}
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       settings.APIKey,
			VoiceID:      settings.VoiceID,
			ModelID:      settings.ModelID,
			OutputFormat: settings.OutputFormat,
			BaseURL:      settings.BaseURL,
			Stability:    settings.Stability,
			Similarity:   settings.Similarity,
		}, logger), nil
	})

	reg.RegisterTTS("mock", func(cfg callbridge.Config, _ *slog.Logger) (tts.Synthesizer, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.TTS.Settings, configutil.Schema{}); err != nil {
			return nil, fmt.Errorf("vendors.tts.settings: %w", err)
		}
		return mock.NewSynthesizer(), nil
	})

	reg.RegisterLLM("openai", func(cfg callbridge.Config) (llm.Completer, error) {
		var settings openAISettings
		if err := configutil.Load("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url", "timeout", "timeout_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		completer := openai.NewCompleter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			completer.BaseURL = strings.TrimRight(settings.BaseURL, "/")
		}
		timeout := settings.Timeout
		if timeout <= 0 {
			timeout = configutil.Millis(settings.TimeoutMS, 0)
		}
		if timeout > 0 {
			completer.Client.Timeout = timeout
		}
		return completer, nil
	})

	reg.RegisterLLM("mock", func(cfg callbridge.Config) (llm.Completer, error) {
		var settings mockLLMSettings
		if err := configutil.Load("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Optional: []string{"replies"},
		}, &settings); err != nil {
			return nil, err
		}
		return mock.NewCompleter(mock.LLMConfig{Replies: settings.Replies}), nil
	})

	reg.RegisterLive("gemini", func(cfg callbridge.Config, logger *slog.Logger) (backend.LiveDialer, error) {
		var settings geminiSettings
		if err := configutil.Load("vendors.live.settings", cfg.Vendors.Live.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "voice"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.live.settings.api_key"); err != nil {
			return nil, err
		}
		return gemini.NewDialer(gemini.Config{
			APIKey: settings.APIKey,
			Model:  settings.Model,
			Voice:  settings.Voice,
		}, logger), nil
	})
}
