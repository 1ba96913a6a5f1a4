package turn

import (
	"errors"
	"sync"
	"testing"
)

type captureListener struct {
	mu      sync.Mutex
	changes []StateChange
}

func (c *captureListener) OnStateChange(event StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, event)
}

func (c *captureListener) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func TestStateMachineReplyCycle(t *testing.T) {
	listener := &captureListener{}
	sm := NewStateMachine()
	sm.AddListener(listener)

	if err := sm.Transition(StateListening, "stream started"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := sm.Transition(StateThinking, "turn completed"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if !sm.Busy() {
		t.Fatalf("expected busy while thinking")
	}
	if err := sm.Transition(StateSpeaking, "audio ready"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := sm.Transition(StateListening, "playback complete"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if sm.Busy() {
		t.Fatalf("expected idle reply state after playback")
	}
	if listener.Count() != 4 {
		t.Fatalf("expected 4 state changes, got %d", listener.Count())
	}
}

func TestStateMachineRejectsSecondReply(t *testing.T) {
	sm := NewStateMachine()
	_ = sm.Transition(StateListening, "")
	_ = sm.Transition(StateThinking, "")

	err := sm.Transition(StateThinking, "second turn")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != StateThinking || invalid.To != StateThinking {
		t.Fatalf("unexpected error fields %+v", invalid)
	}

	_ = sm.Transition(StateSpeaking, "")
	if err := sm.Transition(StateThinking, "while speaking"); err == nil {
		t.Fatalf("expected thinking to be rejected while speaking")
	}
}
