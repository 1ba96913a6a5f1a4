package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/timers"
	"github.com/harunnryd/callbridge/pkg/turn"
)

var ErrClosed = errors.New("session closed")

type Config struct {
	Pacer tts.PacerConfig
	Clock timers.Clock
	// PersistTimeout bounds each transcript write and the final flush on close.
	PersistTimeout time.Duration
	EventBuffer    int
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = timers.RealClock{}
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 2 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return c
}

type Params struct {
	StreamID string
	Record   callstate.Record
	Store    callstate.Store
	Out      tts.Sink
	Backend  Backend
	Config   Config
	Logger   *slog.Logger
	Observer metrics.Observer
}

// Session is one live call leg. Backend callbacks are serialized through Post so the
// dialogue state is only mutated from the session loop.
type Session struct {
	CallID   string
	StreamID string
	TraceID  string
	Created  time.Time

	record  callstate.Record
	store   callstate.Store
	backend Backend
	timers  *timers.Set
	pacer   *tts.Pacer
	state   *turn.StateMachine
	cfg     Config
	logger  *slog.Logger
	obs     metrics.Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	transcript  []callstate.Utterance
	phase       dialogue.Phase
	replyCancel context.CancelFunc
	closed      bool
	closeReason string
	hangup      func()
	hangupOnce  sync.Once

	events chan func()
	done   chan struct{}
	once   sync.Once

	persist *persistQueue
}

func New(p Params) *Session {
	cfg := p.Config.withDefaults()
	traceID := uuid.NewString()
	obs := metrics.WithTags(p.Observer, map[string]string{
		"call_id":   p.Record.CallID,
		"stream_id": p.StreamID,
		"trace_id":  traceID,
	})
	set := timers.NewSet(cfg.Clock)
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.NewComponentLogger(p.Logger, "session").With(
		slog.String("call_id", p.Record.CallID),
		slog.String("stream_id", p.StreamID),
		slog.String("trace_id", traceID),
	)
	s := &Session{
		CallID:   p.Record.CallID,
		StreamID: p.StreamID,
		TraceID:  traceID,
		Created:  cfg.Clock.Now(),
		record:   p.Record,
		store:    p.Store,
		backend:  p.Backend,
		timers:   set,
		pacer:    tts.NewPacer(set, p.Out, cfg.Pacer),
		state:    turn.NewStateMachine(),
		cfg:      cfg,
		logger:   logger,
		obs:      obs,
		ctx:      ctx,
		cancel:   cancel,
		phase:    dialogue.PhaseRapport,
		events:   make(chan func(), cfg.EventBuffer),
		done:     make(chan struct{}),
	}
	s.persist = newPersistQueue(p.Store, p.Record.CallID, cfg.PersistTimeout, logger)
	go s.loop()
	return s
}

// Start hands the session to its backend.
func (s *Session) Start() error {
	if s.backend == nil {
		return errors.New("session has no backend")
	}
	if err := s.backend.Start(s.ctx, s); err != nil {
		return err
	}
	s.logger.Info("session_opened", slog.String("backend", s.backend.Name()))
	metrics.Emit(s.obs, metrics.EventSessionOpened, map[string]string{"backend": s.backend.Name()})
	return nil
}

func (s *Session) Context() context.Context   { return s.ctx }
func (s *Session) Timers() *timers.Set        { return s.timers }
func (s *Session) Logger() *slog.Logger       { return s.logger }
func (s *Session) Observer() metrics.Observer { return s.obs }
func (s *Session) Record() callstate.Record   { return s.record }
func (s *Session) Lead() callstate.Lead       { return s.record.Lead }
func (s *Session) Backend() Backend           { return s.backend }
func (s *Session) State() turn.State          { return s.state.State() }
func (s *Session) Done() <-chan struct{}      { return s.done }

// Busy reports whether a reply is in flight, from BeginReply until its playback completes.
func (s *Session) Busy() bool { return s.state.Busy() }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Post runs fn on the session loop. It reports false once the session is closed.
func (s *Session) Post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Sync waits until everything posted before it has run.
func (s *Session) Sync() bool {
	ch := make(chan struct{})
	if !s.Post(func() { close(ch) }) {
		return false
	}
	select {
	case <-ch:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// AppendUtterance adds to the transcript and queues the write to the call store.
// It returns the transcript length after the append.
func (s *Session) AppendUtterance(u callstate.Utterance) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(s.transcript)
	}
	if u.EndedAt.IsZero() {
		u.EndedAt = s.cfg.Clock.Now()
	}
	s.transcript = append(s.transcript, u)
	s.persist.push(u)
	s.logger.Info("utterance",
		slog.String("speaker", string(u.Speaker)),
		slog.String("text", redact.Text(u.Text)),
		slog.Int("turn", len(s.transcript)))
	return len(s.transcript)
}

func (s *Session) Transcript() []callstate.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]callstate.Utterance(nil), s.transcript...)
}

func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

func (s *Session) Phase() dialogue.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) SetPhase(p dialogue.Phase) {
	s.mu.Lock()
	prev := s.phase
	s.phase = p
	s.mu.Unlock()
	if prev != p {
		s.logger.Info("phase_changed", slog.String("from", prev.String()), slog.String("to", p.String()))
		metrics.Emit(s.obs, metrics.EventPhaseChanged, map[string]string{"from": prev.String(), "to": p.String()})
	}
}

// SetHangup installs the action that ends the call from the agent side.
func (s *Session) SetHangup(fn func()) {
	s.mu.Lock()
	s.hangup = fn
	s.mu.Unlock()
}

// RequestHangup runs the hang-up action once, off the caller's goroutine.
func (s *Session) RequestHangup() {
	s.mu.Lock()
	fn := s.hangup
	s.mu.Unlock()
	if fn == nil {
		return
	}
	s.hangupOnce.Do(func() {
		s.logger.Info("hangup_requested")
		go fn()
	})
}

// CloseReason is empty while the session is open.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Close tears the session down: pending turn detection, pacing, the provider connection
// and any in-flight reply are cancelled in that order, then queued transcript writes are
// flushed within PersistTimeout. Only the first call has any effect.
func (s *Session) Close(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.closeReason = reason
		replyCancel := s.replyCancel
		s.replyCancel = nil
		turns := len(s.transcript)
		phase := s.phase
		s.mu.Unlock()

		if s.backend != nil {
			s.backend.CancelTurns()
		}
		s.pacer.Stop()
		if s.backend != nil {
			if err := s.backend.Close(); err != nil {
				s.logger.Warn("backend_close_failed", slog.String("error", err.Error()))
			}
		}
		if replyCancel != nil {
			replyCancel()
		}
		s.timers.CancelAll()
		s.cancel()
		if s.state.State() != turn.StateIdle {
			_ = s.state.Transition(turn.StateIdle, reason)
		}
		close(s.done)

		if !s.persist.close() {
			s.logger.Warn("transcript_flush_incomplete")
		}
		s.logger.Info("session_closed",
			slog.String("reason", reason),
			slog.Int("turns", turns),
			slog.String("phase", phase.String()))
		metrics.Emit(s.obs, metrics.EventSessionClosed, map[string]string{"reason": reason})
	})
}
