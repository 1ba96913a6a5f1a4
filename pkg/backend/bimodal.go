package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/session"
)

const defaultLiveQueue = 256

type BimodalConfig struct {
	AgentName string
	Company   string
	// QueueSize bounds inbound audio waiting for the model connection.
	QueueSize int
}

// Bimodal relays call audio to a live speech model and plays its audio back. Turn taking
// happens inside the model; transcriptions of both sides are kept for the call record.
type Bimodal struct {
	dialer   LiveDialer
	cfg      BimodalConfig
	prompter *dialogue.Prompter
	engine   *dialogue.Engine
	in       *audio.Transcoder

	s      *session.Session
	logger *slog.Logger
	conn   LiveConn
	queue  chan []byte
	quit   chan struct{}

	mu        sync.Mutex
	started   bool
	closed    bool
	heard     strings.Builder
	said      strings.Builder
	speaking  bool
	closeOnce sync.Once
}

func NewBimodal(dialer LiveDialer, cfg BimodalConfig) (*Bimodal, error) {
	if dialer == nil {
		return nil, errors.New("bimodal backend needs a live dialer")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultLiveQueue
	}
	in, err := audio.NewTranscoder(dialer.InputRate(), dialer.OutputRate())
	if err != nil {
		return nil, err
	}
	return &Bimodal{
		dialer:   dialer,
		cfg:      cfg,
		prompter: dialogue.NewPrompter(cfg.AgentName, cfg.Company),
		engine:   dialogue.NewEngine(),
		in:       in,
		queue:    make(chan []byte, cfg.QueueSize),
		quit:     make(chan struct{}),
	}, nil
}

func (b *Bimodal) Name() string { return "bimodal" }

// Start dials the model and asks it to open with the greeting. A failed dial fails the session.
func (b *Bimodal) Start(ctx context.Context, s *session.Session) error {
	b.s = s
	b.logger = s.Logger().With(slog.String("backend", b.Name()), slog.String("model", b.dialer.Name()))

	lead := s.Lead()
	prompt := b.prompter.Build(dialogue.PromptInput{Phase: s.Phase(), Lead: lead})
	conn, err := b.dialer.Dial(ctx, LiveSetup{SystemPrompt: prompt.System, Voice: lead.Voice})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLiveConnect)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return session.ErrClosed
	}
	b.conn = conn
	b.started = true
	b.mu.Unlock()

	go b.sendLoop()
	go b.receiveLoop()

	greeting := dialogue.Greeting(lead, b.cfg.AgentName, b.cfg.Company)
	if err := conn.SendText(fmt.Sprintf("The call just connected. Open with: %q", greeting)); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLiveSend)
	}
	return nil
}

// PushAudio drops frames when the model connection falls behind.
func (b *Bimodal) PushAudio(ulaw []byte) {
	b.mu.Lock()
	ready := b.started && !b.closed
	b.mu.Unlock()
	if !ready || len(ulaw) == 0 {
		return
	}
	select {
	case b.queue <- b.in.Encode(ulaw):
	default:
		b.logger.Debug("live_audio_dropped", slog.Int("bytes", len(ulaw)))
	}
}

// CancelTurns is a no-op; turn detection runs in the model.
func (b *Bimodal) CancelTurns() {}

func (b *Bimodal) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		conn := b.conn
		b.mu.Unlock()
		close(b.quit)
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (b *Bimodal) sendLoop() {
	for {
		select {
		case <-b.quit:
			return
		case pcm := <-b.queue:
			if err := b.conn.SendAudio(pcm); err != nil {
				b.logger.Warn("live_send_failed",
					slog.String("reason", string(errorsx.ReasonLiveSend)),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (b *Bimodal) receiveLoop() {
	for {
		ev, err := b.conn.Receive()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if !closed {
				b.logger.Warn("live_connection_ended", slog.String("error", err.Error()))
				b.s.RequestHangup()
			}
			return
		}
		if !b.s.Post(func() { b.handle(ev) }) {
			return
		}
	}
}

// handle runs on the session loop.
func (b *Bimodal) handle(ev LiveEvent) {
	s := b.s
	if s.Closed() {
		return
	}
	if ev.InputText != "" {
		b.heard.WriteString(ev.InputText)
	}
	if ev.InputFinished || ev.OutputText != "" || len(ev.Audio) > 0 {
		b.flushHeard()
	}
	if ev.OutputText != "" {
		b.said.WriteString(ev.OutputText)
	}
	if len(ev.Audio) > 0 {
		ulaw, err := audio.DecodeRate(ev.Audio, b.dialer.OutputRate())
		if err != nil {
			b.logger.Warn("live_audio_invalid", slog.String("error", err.Error()))
		} else {
			b.speaking = true
			s.Stream(ulaw)
		}
	}
	if ev.Interrupted {
		s.ClearPlayback()
		b.logger.Info("live_interrupted")
		b.endAgentTurn()
	}
	if ev.TurnComplete {
		b.flushHeard()
		b.endAgentTurn()
	}
}

func (b *Bimodal) flushHeard() {
	text := strings.Join(strings.Fields(b.heard.String()), " ")
	b.heard.Reset()
	if text == "" {
		return
	}
	s := b.s
	s.AppendUtterance(callstate.Utterance{Speaker: callstate.SpeakerProspect, Text: text})
	s.SetPhase(b.engine.Next(s.Phase(), s.Transcript(), text))
	b.logger.Info("turn_completed", slog.String("text", redact.Text(text)))
	metrics.Emit(s.Observer(), metrics.EventTurnCompleted, map[string]string{"phase": s.Phase().String()})
}

func (b *Bimodal) endAgentTurn() {
	s := b.s
	text := strings.Join(strings.Fields(b.said.String()), " ")
	b.said.Reset()
	hangup := false
	if text != "" {
		// The provider greets before the prospect has said anything.
		opening := s.Turns() == 0
		n := s.AppendUtterance(callstate.Utterance{Speaker: callstate.SpeakerAgent, Text: text, Opening: opening})
		hangup = dialogue.ShouldHangUp(s.Phase(), text, n)
	}
	if !b.speaking {
		if hangup {
			s.RequestHangup()
		}
		return
	}
	b.speaking = false
	s.FinishPlayback(func() {
		s.EndReply("turn_complete")
		if hangup {
			s.RequestHangup()
		}
	})
}
