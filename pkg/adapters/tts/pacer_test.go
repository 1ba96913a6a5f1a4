package tts

import (
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/timers"
)

type captureSink struct {
	mu     sync.Mutex
	events []string
	media  [][]byte
}

func (c *captureSink) SendMedia(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "media")
	c.media = append(c.media, payload)
	return nil
}

func (c *captureSink) SendMark(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "mark:"+name)
	return nil
}

func (c *captureSink) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func TestPacerSendsOneFramePerInterval(t *testing.T) {
	clock := timers.NewManualClock(time.Time{})
	sink := &captureSink{}
	p := NewPacer(timers.NewSet(clock), sink, PacerConfig{})
	done := false
	p.Play(make([]byte, 400), func() { done = true })

	clock.Advance(0)
	if got := len(sink.snapshot()); got != 1 {
		t.Fatalf("expected first frame immediately, got %d events", got)
	}
	clock.Advance(19 * time.Millisecond)
	if got := len(sink.snapshot()); got != 1 {
		t.Fatalf("expected no frame before 20ms, got %d events", got)
	}
	clock.Advance(1 * time.Millisecond)
	if got := len(sink.snapshot()); got != 2 {
		t.Fatalf("expected second frame at 20ms, got %d events", got)
	}
	clock.Advance(40 * time.Millisecond)

	events := sink.snapshot()
	want := []string{"media", "media", "media", "mark:audio_complete"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
	if !done {
		t.Fatalf("expected completion callback")
	}
	if len(sink.media[0]) != 160 || len(sink.media[2]) != 80 {
		t.Fatalf("unexpected frame sizes %d/%d", len(sink.media[0]), len(sink.media[2]))
	}
	if p.Busy() {
		t.Fatalf("pacer should be idle after playback")
	}
}

func TestPacerStopSendsNothingFurther(t *testing.T) {
	clock := timers.NewManualClock(time.Time{})
	sink := &captureSink{}
	set := timers.NewSet(clock)
	p := NewPacer(set, sink, PacerConfig{})
	called := false
	p.Play(make([]byte, 1600), func() { called = true })
	clock.Advance(40 * time.Millisecond)
	sent := len(sink.snapshot())

	p.Stop()
	clock.Advance(time.Second)
	p.Play(make([]byte, 160), nil)
	clock.Advance(time.Second)

	if got := len(sink.snapshot()); got != sent {
		t.Fatalf("expected %d events after stop, got %d", sent, got)
	}
	if called {
		t.Fatalf("completion must not run after stop")
	}
	if set.Active() != 0 {
		t.Fatalf("expected pacing timer cancelled")
	}
}

func TestPacerClearKeepsMarks(t *testing.T) {
	clock := timers.NewManualClock(time.Time{})
	sink := &captureSink{}
	p := NewPacer(timers.NewSet(clock), sink, PacerConfig{})
	done := false
	p.Play(make([]byte, 1600), func() { done = true })
	clock.Advance(0)
	p.Clear()
	clock.Advance(100 * time.Millisecond)

	events := sink.snapshot()
	if len(events) != 2 || events[1] != "mark:audio_complete" {
		t.Fatalf("expected one frame then mark, got %v", events)
	}
	if !done {
		t.Fatalf("expected completion after clear")
	}
}
