package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/harunnryd/callbridge/pkg/backend"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
)

const (
	DefaultModel = "gemini-2.0-flash-live-001"
	DefaultVoice = "Puck"

	inputRate  = 16000
	outputRate = 24000
)

type Config struct {
	APIKey string
	Model  string
	Voice  string
}

// Dialer opens Gemini Live sessions with audio responses and transcription on both sides.
type Dialer struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	return &Dialer{cfg: cfg, logger: logging.NewComponentLogger(logger, "gemini_live")}
}

func (d *Dialer) Name() string    { return "gemini_live" }
func (d *Dialer) InputRate() int  { return inputRate }
func (d *Dialer) OutputRate() int { return outputRate }

func (d *Dialer) clientFor(ctx context.Context) (*genai.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	if d.cfg.APIKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: d.cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	d.client = c
	return c, nil
}

func (d *Dialer) connectConfig(setup backend.LiveSetup) *genai.LiveConnectConfig {
	voice := setup.Voice
	if voice == "" {
		voice = d.cfg.Voice
	}
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: setup.SystemPrompt}}}
	}
	return cfg
}

func (d *Dialer) Dial(ctx context.Context, setup backend.LiveSetup) (backend.LiveConn, error) {
	client, err := d.clientFor(ctx)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLiveConnect)
	}
	sess, err := client.Live.Connect(ctx, d.cfg.Model, d.connectConfig(setup))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLiveConnect)
	}
	d.logger.Info("gemini_live_connected", slog.String("model", d.cfg.Model))
	return &conn{sess: sess}, nil
}

// liveSession is the subset of *genai.Session the connection uses.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type conn struct {
	sess liveSession
	// genai sessions are not safe for concurrent writes.
	mu sync.Mutex
}

func (c *conn) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", inputRate)},
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLiveSend)
	}
	return nil
}

func (c *conn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.sess.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}}},
		TurnComplete: genai.Ptr(true),
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLiveSend)
	}
	return nil
}

func (c *conn) Receive() (backend.LiveEvent, error) {
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			return backend.LiveEvent{}, err
		}
		if ev, ok := eventFrom(msg); ok {
			return ev, nil
		}
	}
}

func (c *conn) Close() error { return c.sess.Close() }

// eventFrom flattens a server message. Setup acknowledgements and tool traffic are skipped.
func eventFrom(msg *genai.LiveServerMessage) (backend.LiveEvent, bool) {
	if msg == nil || msg.ServerContent == nil {
		return backend.LiveEvent{}, false
	}
	sc := msg.ServerContent
	var ev backend.LiveEvent
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p != nil && p.InlineData != nil {
				ev.Audio = append(ev.Audio, p.InlineData.Data...)
			}
		}
	}
	if sc.InputTranscription != nil {
		ev.InputText = sc.InputTranscription.Text
		ev.InputFinished = sc.InputTranscription.Finished
	}
	if sc.OutputTranscription != nil {
		ev.OutputText = sc.OutputTranscription.Text
	}
	ev.TurnComplete = sc.TurnComplete
	ev.Interrupted = sc.Interrupted
	return ev, true
}

var _ backend.LiveDialer = (*Dialer)(nil)
