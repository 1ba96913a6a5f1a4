package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/turn"
)

type scriptedCompleter struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    string
	// gate, when set, holds each request until a value arrives or ctx ends.
	gate      chan struct{}
	entered   chan struct{}
	cancelled chan struct{}
}

func newScriptedCompleter(reply string) *scriptedCompleter {
	return &scriptedCompleter{
		reply:     reply,
		entered:   make(chan struct{}, 8),
		cancelled: make(chan struct{}, 8),
	}
}

func (c *scriptedCompleter) Name() string { return "scripted" }

func (c *scriptedCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	gate := c.gate
	c.mu.Unlock()
	c.entered <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			c.cancelled <- struct{}{}
			return "", ctx.Err()
		}
	}
	return c.reply, nil
}

func (c *scriptedCompleter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedCompleter) last() llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func newComposedHarness(t *testing.T, rec *stubRecognizer, synth *stubSynth, completer llm.Completer) (*harness, *Composed) {
	t.Helper()
	responder := dialogue.NewResponder(completer, nil, dialogue.ResponderConfig{Seed: 1}, logging.Discard())
	c, err := NewComposed(rec, synth, responder, ComposedConfig{})
	if err != nil {
		t.Fatalf("new composed: %v", err)
	}
	h := newHarness(t, c)
	responder.SetObserver(h.obs)
	if err := h.s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return h, c
}

// greeted plays the greeting through and waits for the session to listen.
func (h *harness) greeted(t *testing.T) {
	t.Helper()
	h.drive(t, "greeting playback", func() bool {
		_, marks := h.sink.counts()
		return marks == 1 && h.s.State() == turn.StateListening
	})
}

func TestComposedGreetsFirst(t *testing.T) {
	rec := &stubRecognizer{}
	synth := &stubSynth{}
	h, _ := newComposedHarness(t, rec, synth, newScriptedCompleter("ok"))
	defer h.s.Close("test")

	h.greeted(t)
	tr := h.s.Transcript()
	if len(tr) != 1 || tr[0].Speaker != callstate.SpeakerAgent {
		t.Fatalf("expected greeting utterance, got %+v", tr)
	}
	if !strings.Contains(tr[0].Text, "Acme") {
		t.Fatalf("expected greeting to name the lead company, got %q", tr[0].Text)
	}
	if media, _ := h.sink.counts(); media != 2 {
		t.Fatalf("expected 2 media frames, got %d", media)
	}
}

func TestComposedFirstProspectTurnStaysInRapport(t *testing.T) {
	rec := &stubRecognizer{}
	synth := &stubSynth{}
	h, _ := newComposedHarness(t, rec, synth, newScriptedCompleter("Thanks, Dana."))
	defer h.s.Close("test")
	h.greeted(t)

	if tr := h.s.Transcript(); len(tr) != 1 || !tr[0].Opening {
		t.Fatalf("expected the greeting marked as opening, got %+v", tr)
	}
	rec.say("sure, go ahead")
	h.clock.Advance(turn.DefaultDebounce)
	h.drive(t, "first reply", func() bool {
		_, marks := h.sink.counts()
		return marks == 2 && h.s.State() == turn.StateListening
	})
	if got := h.s.Phase(); got != dialogue.PhaseRapport {
		t.Fatalf("first prospect turn: expected rapport, got %s", got)
	}

	rec.say("we use jira for tickets")
	h.clock.Advance(turn.DefaultDebounce)
	h.drive(t, "second reply", func() bool {
		_, marks := h.sink.counts()
		return marks == 3 && h.s.State() == turn.StateListening
	})
	if got := h.s.Phase(); got != dialogue.PhaseDiscovery {
		t.Fatalf("second prospect turn: expected discovery, got %s", got)
	}
}

func TestComposedAnswersCompletedTurn(t *testing.T) {
	rec := &stubRecognizer{}
	synth := &stubSynth{}
	completer := newScriptedCompleter("Great. What does your IT team use for tickets today?")
	h, _ := newComposedHarness(t, rec, synth, completer)
	defer h.s.Close("test")
	h.greeted(t)

	rec.say("sure")
	rec.say("I have a minute")
	h.clock.Advance(turn.DefaultDebounce)

	h.drive(t, "reply playback", func() bool {
		_, marks := h.sink.counts()
		return marks == 2 && h.s.State() == turn.StateListening
	})
	got := speakers(h.s.Transcript())
	want := []callstate.Speaker{callstate.SpeakerAgent, callstate.SpeakerProspect, callstate.SpeakerAgent}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if p := h.s.Transcript()[1].Text; p != "sure I have a minute" {
		t.Fatalf("expected merged turn, got %q", p)
	}
	if completer.count() != 1 {
		t.Fatalf("expected one model call, got %d", completer.count())
	}
	if !strings.Contains(completer.last().User, "I have a minute") {
		t.Fatalf("expected prompt to carry the turn")
	}
	if h.obs.Count(metrics.EventTurnCompleted) != 1 {
		t.Fatalf("expected turn_completed metric")
	}
	waitFor(t, "persisted transcript", func() bool {
		stored, err := h.store.Transcript(context.Background(), "call-1")
		return err == nil && len(stored) == 3
	})
}

func TestComposedStopCancelsInflightReply(t *testing.T) {
	rec := &stubRecognizer{}
	synth := &stubSynth{}
	completer := newScriptedCompleter("never heard")
	completer.gate = make(chan struct{})
	h, _ := newComposedHarness(t, rec, synth, completer)
	h.greeted(t)

	rec.say("tell me more")
	h.clock.Advance(turn.DefaultDebounce)
	select {
	case <-completer.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("model was never called")
	}
	mediaBefore, marksBefore := h.sink.counts()

	h.s.Close("stop")
	select {
	case <-completer.cancelled:
	case <-time.After(3 * time.Second):
		t.Fatalf("in-flight model request was not cancelled")
	}
	h.clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)

	media, marks := h.sink.counts()
	if media != mediaBefore || marks != marksBefore {
		t.Fatalf("audio sent after stop: media %d->%d marks %d->%d", mediaBefore, media, marksBefore, marks)
	}
	if n := len(synth.calls()); n != 1 {
		t.Fatalf("expected only the greeting to be synthesized, got %d", n)
	}
	if !rec.isClosed() {
		t.Fatalf("expected recognizer closed")
	}
}

func TestComposedDefersTurnsDuringReply(t *testing.T) {
	rec := &stubRecognizer{}
	synth := &stubSynth{}
	completer := newScriptedCompleter("Got it. How many people are on the service desk?")
	completer.gate = make(chan struct{})
	h, _ := newComposedHarness(t, rec, synth, completer)
	defer h.s.Close("test")
	h.greeted(t)

	rec.say("we use a spreadsheet")
	h.clock.Advance(turn.DefaultDebounce)
	<-completer.entered

	rec.say("and email")
	h.clock.Advance(turn.DefaultDebounce)
	waitFor(t, "deferred turn", func() bool { return h.obs.Count(metrics.EventTurnDeferred) == 1 })

	close(completer.gate)
	h.drive(t, "second model call", func() bool { return completer.count() == 2 })
	if !strings.Contains(completer.last().User, "and email") {
		t.Fatalf("expected deferred turn to be answered")
	}
	h.drive(t, "second reply", func() bool { return len(h.s.Transcript()) == 5 })
}

func TestComposedContinuesWhenRecognizerFails(t *testing.T) {
	rec := &stubRecognizer{startErr: errors.New("handshake refused")}
	synth := &stubSynth{}
	h, c := newComposedHarness(t, rec, synth, newScriptedCompleter("ok"))
	defer h.s.Close("test")

	if !c.Degraded() {
		t.Fatalf("expected degraded backend")
	}
	if h.obs.Count(metrics.EventRecognizerDegraded) != 1 {
		t.Fatalf("expected recognizer_degraded metric")
	}
	h.greeted(t)
	c.PushAudio(make([]byte, 160))
	if rec.bytesSent() != 0 {
		t.Fatalf("expected no audio forwarded to a failed recognizer")
	}
}

func TestComposedSkipsReplyWhenSynthesisFails(t *testing.T) {
	rec := &stubRecognizer{}
	synth := &stubSynth{fail: func(text string) bool { return strings.Contains(text, "pricing") }}
	h, _ := newComposedHarness(t, rec, synth, newScriptedCompleter("Happy to walk you through pricing."))
	defer h.s.Close("test")
	h.greeted(t)

	rec.say("what does it cost")
	h.clock.Advance(turn.DefaultDebounce)
	waitFor(t, "synthesis failure", func() bool { return h.obs.Count(metrics.EventSynthesisFailed) == 1 })
	waitFor(t, "listening", func() bool { return h.s.State() == turn.StateListening })
	if got := speakers(h.s.Transcript()); len(got) != 2 {
		t.Fatalf("expected no agent utterance for a failed synthesis, got %v", got)
	}
}

func TestComposedTranscodesForRecognizer(t *testing.T) {
	rec := &stubRecognizer{}
	responder := dialogue.NewResponder(newScriptedCompleter("ok"), nil, dialogue.ResponderConfig{Seed: 1}, logging.Discard())
	c, err := NewComposed(rec, &stubSynth{}, responder, ComposedConfig{RecognizerRate: 16000})
	if err != nil {
		t.Fatalf("new composed: %v", err)
	}
	h := newHarness(t, c)
	defer h.s.Close("test")
	if err := h.s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.PushAudio(make([]byte, 160))
	if n := rec.bytesSent(); n != 640 {
		t.Fatalf("expected 640 bytes of 16 kHz PCM, got %d", n)
	}
}

func TestToTelephony(t *testing.T) {
	out, err := ToTelephony(tts.Audio{Data: make([]byte, 960), Encoding: tts.EncodingPCM16, SampleRate: 24000})
	if err != nil {
		t.Fatalf("to telephony: %v", err)
	}
	if len(out) != 160 {
		t.Fatalf("expected 160 µ-law bytes, got %d", len(out))
	}
	if _, err := ToTelephony(tts.Audio{Data: []byte{1}, Encoding: "opus"}); err == nil {
		t.Fatalf("expected unsupported encoding error")
	}
	if _, err := ToTelephony(tts.Audio{}); err == nil {
		t.Fatalf("expected error for empty audio")
	}
}
