package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/timers"
	"github.com/harunnryd/callbridge/pkg/turn"
)

type captureSink struct {
	mu    sync.Mutex
	media int
	marks int
}

func (c *captureSink) SendMedia([]byte) error {
	c.mu.Lock()
	c.media++
	c.mu.Unlock()
	return nil
}

func (c *captureSink) SendMark(string) error {
	c.mu.Lock()
	c.marks++
	c.mu.Unlock()
	return nil
}

func (c *captureSink) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media, c.marks
}

type stubBackend struct {
	mu      sync.Mutex
	calls   []string
	started bool
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Start(context.Context, *Session) error {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) PushAudio([]byte) {}

func (b *stubBackend) CancelTurns() { b.record("cancel_turns") }

func (b *stubBackend) Close() error {
	b.record("close")
	return nil
}

func (b *stubBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *stubBackend) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func newTestSession(t *testing.T, clock timers.Clock, store callstate.Store) (*Session, *captureSink, *stubBackend) {
	t.Helper()
	sink := &captureSink{}
	backend := &stubBackend{}
	s := New(Params{
		StreamID: "MZ1",
		Record:   callstate.Record{CallID: "call-1"},
		Store:    store,
		Out:      sink,
		Backend:  backend,
		Config:   Config{Clock: clock},
		Logger:   logging.Discard(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s, sink, backend
}

func TestSessionRepliesAreSequential(t *testing.T) {
	s, _, _ := newTestSession(t, timers.NewManualClock(time.Time{}), nil)
	defer s.Close("test")

	ctx, ok := s.BeginReply("turn")
	if !ok || ctx == nil {
		t.Fatalf("expected first reply to begin")
	}
	if !s.Busy() {
		t.Fatalf("expected busy while reply in flight")
	}
	if _, ok := s.BeginReply("turn"); ok {
		t.Fatalf("second concurrent reply must be refused")
	}
	s.EndReply("done")
	if ctx.Err() == nil {
		t.Fatalf("expected reply context cancelled by EndReply")
	}
	if s.Busy() {
		t.Fatalf("expected idle after EndReply")
	}
	if _, ok := s.BeginReply("turn"); !ok {
		t.Fatalf("expected next reply to begin")
	}
}

func TestSessionPlayRunsDoneOnLoop(t *testing.T) {
	clock := timers.NewManualClock(time.Time{})
	s, sink, _ := newTestSession(t, clock, nil)
	defer s.Close("test")

	if _, ok := s.BeginReply("greeting"); !ok {
		t.Fatalf("begin reply")
	}
	finished := make(chan struct{})
	s.Play(make([]byte, 320), func() {
		s.EndReply("playback_done")
		close(finished)
	})
	if s.State() != turn.StateSpeaking {
		t.Fatalf("expected speaking, got %s", s.State())
	}
	clock.Advance(100 * time.Millisecond)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("playback completion not delivered")
	}
	media, marks := sink.counts()
	if media != 2 || marks != 1 {
		t.Fatalf("expected 2 frames and 1 mark, got %d/%d", media, marks)
	}
	if s.State() != turn.StateListening {
		t.Fatalf("expected listening after playback, got %s", s.State())
	}
}

func TestSessionCloseStopsEverything(t *testing.T) {
	clock := timers.NewManualClock(time.Time{})
	s, sink, backend := newTestSession(t, clock, nil)

	ctx, _ := s.BeginReply("turn")
	s.Play(make([]byte, 160*10), nil)
	clock.Advance(40 * time.Millisecond)
	before, _ := sink.counts()

	s.Close("stop")
	s.Close("again")

	clock.Advance(time.Second)
	after, marks := sink.counts()
	if after != before || marks != 0 {
		t.Fatalf("audio sent after close: %d -> %d, marks %d", before, after, marks)
	}
	if ctx.Err() == nil {
		t.Fatalf("expected in-flight reply cancelled")
	}
	calls := backend.snapshot()
	if len(calls) != 2 || calls[0] != "cancel_turns" || calls[1] != "close" {
		t.Fatalf("unexpected backend teardown %v", calls)
	}
	if s.Post(func() {}) {
		t.Fatalf("post after close must fail")
	}
	if _, ok := s.BeginReply("late"); ok {
		t.Fatalf("reply after close must fail")
	}
	if s.CloseReason() != "stop" {
		t.Fatalf("expected first close reason kept, got %q", s.CloseReason())
	}
	if s.Timers().Active() != 0 {
		t.Fatalf("expected no live timers")
	}
}

func TestSessionCloseFlushesTranscriptInOrder(t *testing.T) {
	store := callstate.NewMemoryStore()
	_ = store.Register(context.Background(), callstate.Record{CallID: "call-1"})
	s, _, _ := newTestSession(t, timers.RealClock{}, store)

	for _, text := range []string{"one", "two", "three"} {
		s.AppendUtterance(callstate.Utterance{Speaker: callstate.SpeakerProspect, Text: text})
	}
	s.Close("stop")
	s.AppendUtterance(callstate.Utterance{Speaker: callstate.SpeakerProspect, Text: "late"})

	lines, _ := store.Transcript(context.Background(), "call-1")
	if len(lines) != 3 {
		t.Fatalf("expected 3 persisted lines, got %d", len(lines))
	}
	for i, want := range []string{"one", "two", "three"} {
		if lines[i].Text != want {
			t.Fatalf("line %d: expected %q, got %q", i, want, lines[i].Text)
		}
	}
}

func TestSessionHangupRunsOnce(t *testing.T) {
	s, _, _ := newTestSession(t, timers.NewManualClock(time.Time{}), nil)
	defer s.Close("test")
	calls := make(chan struct{}, 2)
	s.SetHangup(func() { calls <- struct{}{} })
	s.RequestHangup()
	s.RequestHangup()
	<-calls
	select {
	case <-calls:
		t.Fatalf("hang-up ran twice")
	case <-time.After(20 * time.Millisecond):
	}
}
