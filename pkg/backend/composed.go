package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/session"
	"github.com/harunnryd/callbridge/pkg/turn"
)

const DefaultSynthesisTimeout = 10 * time.Second

type ComposedConfig struct {
	Debounce         time.Duration
	SynthesisTimeout time.Duration
	// RecognizerRate is the PCM16 rate the recognizer expects. Zero forwards µ-law as is.
	RecognizerRate int
	AgentName      string
	Company        string
}

// Composed chains a streaming recognizer, the dialogue responder and a synthesizer.
// Every state change runs on the session loop; provider calls run on their own goroutines
// and post their results back.
type Composed struct {
	recognizer stt.Recognizer
	synth      tts.Synthesizer
	responder  *dialogue.Responder
	engine     *dialogue.Engine
	cfg        ComposedConfig
	transcoder *audio.Transcoder

	s         *session.Session
	logger    *slog.Logger
	scheduler *turn.Scheduler

	mu       sync.Mutex
	degraded bool
	pending  *turn.Turn
}

func NewComposed(recognizer stt.Recognizer, synth tts.Synthesizer, responder *dialogue.Responder, cfg ComposedConfig) (*Composed, error) {
	if recognizer == nil || synth == nil || responder == nil {
		return nil, errors.New("composed backend needs a recognizer, a synthesizer and a responder")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = turn.DefaultDebounce
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultSynthesisTimeout
	}
	c := &Composed{
		recognizer: recognizer,
		synth:      synth,
		responder:  responder,
		engine:     dialogue.NewEngine(),
		cfg:        cfg,
	}
	if cfg.RecognizerRate > 0 {
		tr, err := audio.NewTranscoder(cfg.RecognizerRate, audio.TelephonyRate)
		if err != nil {
			return nil, err
		}
		c.transcoder = tr
	}
	return c, nil
}

func (c *Composed) Name() string { return "composed" }

// Start plays the greeting and opens the recognizer. A recognizer that fails to connect
// leaves the call up without turn detection.
func (c *Composed) Start(ctx context.Context, s *session.Session) error {
	c.s = s
	c.logger = s.Logger().With(slog.String("backend", c.Name()))
	c.scheduler = turn.NewScheduler(s.Timers(), c.cfg.Debounce, func(t turn.Turn) {
		s.Post(func() { c.handleTurn(t) })
	})

	c.greet()

	if err := c.recognizer.Start(ctx, stt.Filter(c.scheduler.Add)); err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		c.logger.Error("recognizer_degraded",
			slog.String("recognizer", c.recognizer.Name()),
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		metrics.Emit(s.Observer(), metrics.EventRecognizerDegraded, map[string]string{"recognizer": c.recognizer.Name()})
	}
	return nil
}

func (c *Composed) PushAudio(ulaw []byte) {
	c.mu.Lock()
	degraded := c.degraded
	c.mu.Unlock()
	if degraded || len(ulaw) == 0 {
		return
	}
	payload := ulaw
	if c.transcoder != nil {
		payload = c.transcoder.Encode(ulaw)
	}
	if err := c.recognizer.SendAudio(payload); err != nil {
		c.logger.Debug("recognizer_send_failed", slog.String("error", err.Error()))
	}
}

func (c *Composed) CancelTurns() {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

func (c *Composed) Close() error {
	return c.recognizer.Close()
}

// Degraded reports whether the recognizer failed to start.
func (c *Composed) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Composed) greet() {
	s := c.s
	ctx, ok := s.BeginReply("greeting")
	if !ok {
		return
	}
	text := dialogue.Greeting(s.Lead(), c.cfg.AgentName, c.cfg.Company)
	go func() {
		ulaw, err := c.synthesize(ctx, text)
		s.Post(func() { c.deliver(text, ulaw, err, true) })
	}()
}

// handleTurn runs on the session loop. Turns that complete while a reply is in flight
// are merged and answered once the reply finishes.
func (c *Composed) handleTurn(t turn.Turn) {
	if c.s.Closed() {
		return
	}
	if c.s.Busy() {
		c.mu.Lock()
		if c.pending == nil {
			c.pending = &t
		} else {
			c.pending.Text += " " + t.Text
			c.pending.Confidence = t.Confidence
			c.pending.Fragments += t.Fragments
			c.pending.At = t.At
		}
		c.mu.Unlock()
		c.logger.Info("turn_deferred", slog.String("state", c.s.State().String()))
		metrics.Emit(c.s.Observer(), metrics.EventTurnDeferred, nil)
		return
	}
	c.dispatch(t)
}

func (c *Composed) dispatch(t turn.Turn) {
	s := c.s
	s.AppendUtterance(callstate.Utterance{
		Speaker:       callstate.SpeakerProspect,
		Text:          t.Text,
		Confidence:    t.Confidence,
		HasConfidence: true,
		EndedAt:       t.At,
	})
	transcript := s.Transcript()
	phase := c.engine.Next(s.Phase(), transcript, t.Text)
	s.SetPhase(phase)

	ctx, ok := s.BeginReply("turn")
	if !ok {
		return
	}
	c.logger.Info("turn_completed",
		slog.String("text", redact.Text(t.Text)),
		slog.Float64("confidence", t.Confidence),
		slog.Int("fragments", t.Fragments),
		slog.String("phase", phase.String()))
	metrics.Emit(s.Observer(), metrics.EventTurnCompleted, map[string]string{"phase": phase.String()})

	in := dialogue.ReplyInput{
		Phase:         phase,
		Lead:          s.Lead(),
		Transcript:    transcript,
		Latest:        t.Text,
		Confidence:    t.Confidence,
		HasConfidence: true,
	}
	go c.respond(ctx, in)
}

func (c *Composed) respond(ctx context.Context, in dialogue.ReplyInput) {
	s := c.s
	reply, err := c.responder.Reply(ctx, in)
	if err != nil {
		s.Post(c.finishReply)
		return
	}
	ulaw, err := c.synthesize(ctx, reply.Text)
	if ctx.Err() != nil {
		s.Post(c.finishReply)
		return
	}
	s.Post(func() { c.deliver(reply.Text, ulaw, err, false) })
}

// deliver runs on the session loop with a synthesized reply.
func (c *Composed) deliver(text string, ulaw []byte, err error, opening bool) {
	s := c.s
	if s.Closed() {
		return
	}
	if err != nil {
		c.logger.Error("synthesis_failed",
			slog.String("synthesizer", c.synth.Name()),
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		metrics.Emit(s.Observer(), metrics.EventSynthesisFailed, map[string]string{"synthesizer": c.synth.Name()})
		c.finishReply()
		return
	}
	n := s.AppendUtterance(callstate.Utterance{Speaker: callstate.SpeakerAgent, Text: text, Opening: opening})
	hangup := !opening && dialogue.ShouldHangUp(s.Phase(), text, n)
	s.Play(ulaw, func() {
		c.finishReply()
		if hangup {
			s.RequestHangup()
		}
	})
}

func (c *Composed) finishReply() {
	c.s.EndReply("reply_done")
	if c.s.Closed() {
		return
	}
	c.mu.Lock()
	next := c.pending
	c.pending = nil
	c.mu.Unlock()
	if next != nil {
		c.dispatch(*next)
	}
}

func (c *Composed) synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty reply")
	}
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SynthesisTimeout)
	defer cancel()
	out, err := c.synth.Synthesize(sctx, tts.Request{Text: text, VoiceID: c.s.Lead().Voice})
	if err != nil {
		return nil, err
	}
	return ToTelephony(out)
}

// ToTelephony converts synthesized audio to 8 kHz µ-law.
func ToTelephony(a tts.Audio) ([]byte, error) {
	if len(a.Data) == 0 {
		return nil, errors.New("synthesizer returned no audio")
	}
	switch a.Encoding {
	case "", tts.EncodingMulaw:
		if a.SampleRate != 0 && a.SampleRate != audio.TelephonyRate {
			return nil, errors.New("µ-law audio must be 8 kHz")
		}
		return a.Data, nil
	case tts.EncodingPCM16:
		rate := a.SampleRate
		if rate == 0 {
			rate = audio.TelephonyRate
		}
		return audio.DecodeRate(a.Data, rate)
	default:
		return nil, errors.New("unsupported audio encoding " + a.Encoding)
	}
}
