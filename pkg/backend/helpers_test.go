package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/session"
	"github.com/harunnryd/callbridge/pkg/timers"
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

type stubRecognizer struct {
	mu       sync.Mutex
	handler  stt.Handler
	startErr error
	sent     int
	closed   bool
}

func (r *stubRecognizer) Name() string { return "stub" }

func (r *stubRecognizer) Start(_ context.Context, h stt.Handler) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
	return nil
}

func (r *stubRecognizer) SendAudio(b []byte) error {
	r.mu.Lock()
	r.sent += len(b)
	r.mu.Unlock()
	return nil
}

func (r *stubRecognizer) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *stubRecognizer) bytesSent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func (r *stubRecognizer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *stubRecognizer) say(text string) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	h(stt.Fragment{Text: text, Confidence: 0.92, Final: true})
}

type stubSynth struct {
	mu    sync.Mutex
	texts []string
	fail  func(text string) bool
}

func (s *stubSynth) Name() string { return "stub" }

func (s *stubSynth) Synthesize(_ context.Context, req tts.Request) (tts.Audio, error) {
	s.mu.Lock()
	s.texts = append(s.texts, req.Text)
	fail := s.fail
	s.mu.Unlock()
	if fail != nil && fail(req.Text) {
		return tts.Audio{}, errors.New("voice unavailable")
	}
	return tts.Audio{Data: make([]byte, 320), Encoding: tts.EncodingMulaw, SampleRate: 8000}, nil
}

func (s *stubSynth) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type harness struct {
	clock *timers.ManualClock
	sink  *captureSink
	obs   *metrics.MemoryObserver
	store *callstate.MemoryStore
	s     *session.Session
}

func newHarness(t *testing.T, b session.Backend) *harness {
	t.Helper()
	h := &harness{
		clock: timers.NewManualClock(time.Time{}),
		sink:  &captureSink{},
		obs:   metrics.NewMemoryObserver(),
		store: callstate.NewMemoryStore(),
	}
	rec := callstate.Record{CallID: "call-1", Lead: callstate.Lead{Name: "Dana", Company: "Acme"}}
	if err := h.store.Register(context.Background(), rec); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.s = session.New(session.Params{
		StreamID: "MZ1",
		Record:   rec,
		Store:    h.store,
		Out:      h.sink,
		Backend:  b,
		Config:   session.Config{Clock: h.clock},
		Logger:   logging.Discard(),
		Observer: h.obs,
	})
	return h
}

// drive advances the manual clock in pacing steps until cond holds.
func (h *harness) drive(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		h.clock.Advance(20 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
}

// waitFor polls without moving the clock.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func speakers(u []callstate.Utterance) []callstate.Speaker {
	out := make([]callstate.Speaker, 0, len(u))
	for _, x := range u {
		out = append(out, x.Speaker)
	}
	return out
}
