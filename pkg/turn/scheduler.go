package turn

import (
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/timers"
)

// DefaultDebounce is the silence that closes a conversational turn.
const DefaultDebounce = 800 * time.Millisecond

// Turn is the merged text of every fragment the prospect spoke before going quiet.
type Turn struct {
	Text       string
	Confidence float64
	Fragments  int
	At         time.Time
}

// Scheduler merges accepted fragments into turns. Each fragment restarts a single debounce
// timer; when it expires the accumulated text is emitted once and the accumulator cleared.
type Scheduler struct {
	timers *timers.Set
	delay  time.Duration
	onTurn func(Turn)

	mu         sync.Mutex
	parts      []string
	confidence float64
	tok        timers.Token
	stopped    bool
}

func NewScheduler(set *timers.Set, delay time.Duration, onTurn func(Turn)) *Scheduler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler{timers: set, delay: delay, onTurn: onTurn}
}

// Add appends a fragment to the pending turn and restarts the debounce timer.
func (s *Scheduler) Add(f stt.Fragment) {
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.parts = append(s.parts, text)
	s.confidence = f.Confidence
	s.timers.Cancel(s.tok)
	s.tok = s.timers.Start(s.delay, s.fire)
}

// Pending returns the accumulated text that has not been emitted yet.
func (s *Scheduler) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.parts, " ")
}

// Stop cancels the debounce timer and discards the partial turn. No turn is emitted afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.timers.Cancel(s.tok)
	s.tok = 0
	s.parts = nil
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped || len(s.parts) == 0 {
		s.mu.Unlock()
		return
	}
	t := Turn{
		Text:       strings.Join(s.parts, " "),
		Confidence: s.confidence,
		Fragments:  len(s.parts),
		At:         s.timers.Clock().Now(),
	}
	s.parts = nil
	s.tok = 0
	s.mu.Unlock()

	if s.onTurn != nil {
		s.onTurn(t)
	}
}
