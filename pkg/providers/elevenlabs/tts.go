package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	// OutputFormat is ulaw_8000, pcm_16000 or pcm_24000.
	OutputFormat string
	BaseURL      string
	Stability    float64
	Similarity   float64
}

func (c Config) withDefaults() Config {
	if c.ModelID == "" {
		c.ModelID = "eleven_turbo_v2_5"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "ulaw_8000"
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Stability == 0 {
		c.Stability = 0.5
	}
	if c.Similarity == 0 {
		c.Similarity = 0.8
	}
	return c
}

// Synthesizer opens one stream-input websocket per utterance and collects audio until
// the server marks the generation final.
type Synthesizer struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		cfg:    cfg.withDefaults(),
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 5 * time.Second},
		logger: logging.NewComponentLogger(logger, "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

type streamMessage struct {
	Audio   string `json:"audio"`
	IsFinal *bool  `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	voice := req.VoiceID
	if voice == "" {
		voice = s.cfg.VoiceID
	}
	if s.cfg.APIKey == "" || voice == "" {
		return tts.Audio{}, errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonTTSConnect)
	}
	encoding, rate, err := parseFormat(s.cfg.OutputFormat)
	if err != nil {
		return tts.Audio{}, err
	}
	u, err := s.buildURL(voice)
	if err != nil {
		return tts.Audio{}, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, u, http.Header{"xi-api-key": []string{s.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("ElevenLabs rate limit exceeded", slog.String("status", resp.Status))
			return tts.Audio{}, errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonTTSRateLimit)
		}
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	text := strings.TrimSpace(req.Text)
	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.Similarity,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
		}
	}

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return tts.Audio{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(audio) > 0 {
				break
			}
			return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("tts websocket raw data", slog.Int("size_bytes", len(data)))
			continue
		}
		if msg.Error != "" {
			return tts.Audio{}, errorsx.Wrap(fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message), errorsx.ReasonTTSSynthesize)
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.logger.Error("tts audio decode error", slog.String("error", err.Error()))
				continue
			}
			audio = append(audio, raw...)
		}
		if msg.IsFinal != nil && *msg.IsFinal {
			break
		}
	}

	s.logger.Debug("tts utterance synthesized",
		slog.Int("size_bytes", len(audio)),
		slog.String("output_format", s.cfg.OutputFormat))
	return tts.Audio{Data: audio, Encoding: encoding, SampleRate: rate}, nil
}

func (s *Synthesizer) buildURL(voice string) (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/") + "/" + url.PathEscape(voice) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func parseFormat(format string) (string, int, error) {
	switch format {
	case "ulaw_8000":
		return tts.EncodingMulaw, 8000, nil
	case "pcm_16000":
		return tts.EncodingPCM16, 16000, nil
	case "pcm_24000":
		return tts.EncodingPCM16, 24000, nil
	default:
		return "", 0, fmt.Errorf("unsupported elevenlabs output format %q", format)
	}
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
