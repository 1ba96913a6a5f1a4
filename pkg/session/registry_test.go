package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/timers"
)

func bareSession(callID, streamID string) *Session {
	return New(Params{
		StreamID: streamID,
		Record:   callstate.Record{CallID: callID},
		Out:      &captureSink{},
		Backend:  &stubBackend{},
		Config:   Config{Clock: timers.NewManualClock(time.Time{})},
		Logger:   logging.Discard(),
	})
}

func TestRegistryLookupByCallAndStream(t *testing.T) {
	r := NewRegistry(nil)
	s := bareSession("call-1", "MZ1")
	if err := r.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got, ok := r.Lookup("MZ1"); !ok || got != s {
		t.Fatalf("expected lookup by stream id")
	}
	if got, ok := r.Lookup("call-1"); !ok || got != s {
		t.Fatalf("expected lookup by call id")
	}
	if err := r.Register(bareSession("call-1", "MZ2")); !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestRegistryRemoveAfterGrace(t *testing.T) {
	clock := timers.NewManualClock(time.Time{})
	r := NewRegistry(clock)
	s := bareSession("call-1", "MZ1")
	_ = r.Register(s)

	r.RemoveAfter(s, 5*time.Second)
	clock.Advance(4 * time.Second)
	if _, ok := r.Lookup("MZ1"); !ok {
		t.Fatalf("session removed before grace elapsed")
	}
	clock.Advance(time.Second)
	if r.Len() != 0 {
		t.Fatalf("expected session removed after grace")
	}
}

func TestRegistryRemoveKeepsReplacement(t *testing.T) {
	r := NewRegistry(nil)
	old := bareSession("call-1", "MZ1")
	_ = r.Register(old)
	r.Remove(old)
	fresh := bareSession("call-1", "MZ2")
	_ = r.Register(fresh)
	r.Remove(old)
	if got, ok := r.Lookup("call-1"); !ok || got != fresh {
		t.Fatalf("stale removal dropped the live session")
	}
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry(nil)
	s := bareSession("call-1", "MZ1")
	_ = r.Register(s)
	r.SetDraining(true)
	if err := r.Register(bareSession("call-2", "MZ2")); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected draining error, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if r.WaitForEmpty(ctx, 5*time.Millisecond) {
		t.Fatalf("expected wait to time out with a live session")
	}
	r.CloseAll("shutdown")
	if !s.Closed() || r.Len() != 0 {
		t.Fatalf("expected sessions closed and removed")
	}
	if !r.WaitForEmpty(context.Background(), time.Millisecond) {
		t.Fatalf("expected empty registry")
	}
}
