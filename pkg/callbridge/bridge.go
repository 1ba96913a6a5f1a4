package callbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/events"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/session"
	"github.com/harunnryd/callbridge/pkg/timers"
	"github.com/harunnryd/callbridge/pkg/transports"
)

// ErrUnknownCall means the media stream names a call that was never registered.
var ErrUnknownCall = errors.New("unknown call")

const (
	DefaultGrace          = 5 * time.Second
	DefaultSummaryTimeout = 30 * time.Second
	DefaultHangupTimeout  = 5 * time.Second
	DefaultProducer       = "callbridge"

	publishTimeout = 5 * time.Second
	lookupTimeout  = 3 * time.Second
	endedTTL       = 10 * time.Minute
)

// Terminal call statuses reported by the telephony provider.
var terminalStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// IsTerminalStatus reports whether status ends the call.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// Summarizer writes the post-call summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []callstate.Utterance) (string, error)
}

type BridgeOptions struct {
	Store      callstate.Store
	Backends   session.BackendFactory
	Publisher  events.Publisher
	Summarizer Summarizer
	Hanger     transports.CallHanger
	Session    session.Config
	// Grace keeps an ended session resolvable for late packets.
	Grace          time.Duration
	SummaryTimeout time.Duration
	HangupTimeout  time.Duration
	Producer       string
	Logger         *slog.Logger
	Observer       metrics.Observer
}

// Bridge is the call side of the media relay. It resolves streams against the call
// registry, owns live sessions and finalizes each call exactly once.
type Bridge struct {
	opts     BridgeOptions
	clock    timers.Clock
	sessions *session.Registry
	logger   *slog.Logger
	obs      metrics.Observer

	mu    sync.Mutex
	ended map[string]bool

	summaries sync.WaitGroup
}

func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("call store is required")
	}
	if opts.Backends == nil {
		return nil, fmt.Errorf("backend factory is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = DefaultSummaryTimeout
	}
	if opts.HangupTimeout <= 0 {
		opts.HangupTimeout = DefaultHangupTimeout
	}
	if opts.Producer == "" {
		opts.Producer = DefaultProducer
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	clock := opts.Session.Clock
	if clock == nil {
		clock = timers.RealClock{}
		opts.Session.Clock = clock
	}
	return &Bridge{
		opts:     opts,
		clock:    clock,
		sessions: session.NewRegistry(clock),
		logger:   logging.NewComponentLogger(opts.Logger, "callbridge"),
		obs:      opts.Observer,
		ended:    make(map[string]bool),
	}, nil
}

func (b *Bridge) Sessions() *session.Registry { return b.sessions }

// SetHanger installs the agent-side hang-up action. Call before streams arrive.
func (b *Bridge) SetHanger(h transports.CallHanger) { b.opts.Hanger = h }

// OpenStream resolves the call record, starts a session on its backend and returns the
// handle the transport feeds inbound audio into.
func (b *Bridge) OpenStream(ctx context.Context, start transports.StreamStart, out tts.Sink) (transports.Stream, error) {
	rec, err := b.resolve(ctx, start)
	if err != nil {
		b.logger.Warn("stream_rejected",
			slog.String("call_id", start.CallID),
			slog.String("stream_id", start.StreamID),
			slog.String("error", err.Error()))
		return nil, err
	}
	if rec.CallSID == "" {
		rec.CallSID = start.CallSID
	}
	if prev, ok := b.sessions.Lookup(rec.CallID); ok && prev.Closed() {
		b.sessions.Remove(prev)
	}

	backend, err := b.opts.Backends(rec)
	if err != nil {
		return nil, fmt.Errorf("build backend: %w", err)
	}
	s := session.New(session.Params{
		StreamID: start.StreamID,
		Record:   rec,
		Store:    b.opts.Store,
		Out:      out,
		Backend:  backend,
		Config:   b.opts.Session,
		Logger:   b.opts.Logger,
		Observer: b.obs,
	})
	if err := b.sessions.Register(s); err != nil {
		s.Close("rejected")
		return nil, err
	}
	s.SetHangup(func() { b.hangup(s) })
	if err := s.Start(); err != nil {
		b.endSession(s, "start_failed")
		return nil, fmt.Errorf("start session: %w", err)
	}
	b.publish(rec.CallID, events.TypeStreamStarted, events.StreamStarted{
		CallID:   rec.CallID,
		StreamID: start.StreamID,
		Backend:  backend.Name(),
	})
	return &stream{bridge: b, session: s}, nil
}

func (b *Bridge) resolve(ctx context.Context, start transports.StreamStart) (callstate.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	for _, id := range []string{start.CallID, start.CallSID} {
		if id == "" {
			continue
		}
		rec, ok, err := b.opts.Store.Lookup(ctx, id)
		if err != nil {
			return callstate.Record{}, errorsx.Wrap(fmt.Errorf("lookup %s: %w", id, err), errorsx.ReasonCallStateLookup)
		}
		if ok {
			return rec, nil
		}
	}
	return callstate.Record{}, errorsx.Wrap(ErrUnknownCall, errorsx.ReasonCallStateUnknownCall)
}

// EndStream handles the stream stop event or a closed socket for streamID.
func (b *Bridge) EndStream(streamID, reason string) {
	s, ok := b.sessions.Lookup(streamID)
	if !ok {
		return
	}
	b.endStream(s, reason)
}

// endStream always tears the session down; the call itself is finalized once.
func (b *Bridge) endStream(s *session.Session, reason string) {
	b.endSession(s, reason)
	b.finish(s.CallID, "completed", reason, s)
}

// CallStatus handles the status callback. Terminal statuses end the call even when the
// media stream never started or never reported stop.
func (b *Bridge) CallStatus(ctx context.Context, update transports.StatusUpdate) error {
	status := strings.ToLower(strings.TrimSpace(update.Status))
	callID := update.CallID
	if callID == "" && update.CallSID != "" {
		if s, ok := b.sessions.Lookup(update.CallSID); ok {
			callID = s.CallID
		} else {
			lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
			rec, found, err := b.opts.Store.Lookup(lctx, update.CallSID)
			cancel()
			if err != nil {
				return errorsx.Wrap(err, errorsx.ReasonCallStateLookup)
			}
			if found {
				callID = rec.CallID
			}
		}
	}
	if callID == "" {
		return errorsx.Wrap(ErrUnknownCall, errorsx.ReasonCallStateUnknownCall)
	}
	b.logger.Info("call_status", slog.String("call_id", callID), slog.String("status", status))
	if !IsTerminalStatus(status) {
		return nil
	}
	reason := "call_" + strings.ReplaceAll(status, "-", "_")
	s, ok := b.sessions.Lookup(callID)
	if ok {
		b.endSession(s, reason)
	}
	b.finish(callID, status, reason, s)
	return nil
}

// finish finalizes the call record, publishes call.ended and starts the summary. Only the
// first caller for a call does any work. s is the session that ended, if any; callers
// close it before calling finish.
func (b *Bridge) finish(callID, status, reason string, s *session.Session) {
	b.mu.Lock()
	if b.ended[callID] {
		b.mu.Unlock()
		return
	}
	b.ended[callID] = true
	b.mu.Unlock()
	b.clock.AfterFunc(endedTTL, func() {
		b.mu.Lock()
		delete(b.ended, callID)
		b.mu.Unlock()
	})

	payload := events.CallEnded{CallID: callID, Status: status, Reason: reason, Phase: dialogue.PhaseRapport.String()}
	var live []callstate.Utterance
	if s != nil {
		payload.StreamID = s.StreamID
		payload.Turns = s.Turns()
		payload.Phase = s.Phase().String()
		live = s.Transcript()
	}
	payload.EndedAt = b.clock.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	if err := b.opts.Store.Finalize(ctx, callID, callstate.Outcome{Status: status, EndedAt: payload.EndedAt}); err != nil {
		b.logger.Warn("finalize_failed", slog.String("call_id", callID), slog.String("error", err.Error()))
	}
	cancel()
	b.publish(callID, events.TypeCallEnded, payload)
	b.logger.Info("call_ended",
		slog.String("call_id", callID),
		slog.String("status", status),
		slog.String("reason", reason),
		slog.Int("turns", payload.Turns))

	if b.opts.Summarizer == nil {
		return
	}
	b.summaries.Add(1)
	go func() {
		defer b.summaries.Done()
		b.summarize(callID, live)
	}()
}

func (b *Bridge) summarize(callID string, live []callstate.Utterance) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.SummaryTimeout)
	defer cancel()
	transcript, err := b.opts.Store.Transcript(ctx, callID)
	if err != nil || len(transcript) < len(live) {
		transcript = live
	}
	if len(transcript) == 0 {
		return
	}
	summary, err := b.opts.Summarizer.Summarize(ctx, transcript)
	if err != nil {
		b.logger.Warn("summary_failed", slog.String("call_id", callID), slog.String("error", err.Error()))
		return
	}
	if summary == "" {
		return
	}
	if err := b.opts.Store.Finalize(ctx, callID, callstate.Outcome{Summary: summary}); err != nil {
		b.logger.Warn("finalize_failed", slog.String("call_id", callID), slog.String("error", err.Error()))
	}
	b.publish(callID, events.TypeCallSummary, events.CallSummarized{CallID: callID, Summary: summary})
	b.logger.Info("call_summarized", slog.String("call_id", callID))
}

func (b *Bridge) endSession(s *session.Session, reason string) {
	s.Close(reason)
	b.sessions.RemoveAfter(s, b.opts.Grace)
}

func (b *Bridge) hangup(s *session.Session) {
	if b.opts.Hanger == nil {
		return
	}
	sid := s.Record().CallSID
	if sid == "" {
		s.Logger().Warn("hangup_skipped", slog.String("reason", "no call sid"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.HangupTimeout)
	defer cancel()
	if err := b.opts.Hanger.Hangup(ctx, sid); err != nil {
		s.Logger().Warn("hangup_failed", slog.String("error", err.Error()))
	}
}

func (b *Bridge) publish(callID, eventType string, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	env := events.NewEnvelope(eventType, b.opts.Producer, callID, data)
	if err := b.opts.Publisher.Publish(ctx, env); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonEventsPublish)
		b.logger.Warn("publish_failed",
			slog.String("call_id", callID),
			slog.String("type", eventType),
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	}
}

// Drain refuses new streams and waits for live calls to end. Calls still up when ctx
// ends are closed, then pending summaries are awaited.
func (b *Bridge) Drain(ctx context.Context) error {
	b.sessions.SetDraining(true)
	var err error
	if !b.sessions.WaitForEmpty(ctx, 200*time.Millisecond) {
		b.logger.Warn("drain_timeout", slog.Int("sessions", b.sessions.Len()))
		b.sessions.CloseAll("shutdown")
		err = ctx.Err()
	}
	done := make(chan struct{})
	go func() {
		b.summaries.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Draining satisfies the runner's drainer contract.
func (b *Bridge) Draining() bool { return b.sessions.Draining() }

// WaitSummaries blocks until every started summary has finished. Used by tests and the CLI.
func (b *Bridge) WaitSummaries() { b.summaries.Wait() }

type stream struct {
	bridge  *Bridge
	session *session.Session
}

func (st *stream) PushAudio(ulaw []byte) {
	if st.session.Closed() {
		return
	}
	st.session.Backend().PushAudio(ulaw)
}

func (st *stream) Stop(reason string) {
	st.bridge.endStream(st.session, reason)
}

var _ transports.Handler = (*Bridge)(nil)
