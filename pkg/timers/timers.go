package timers

import (
	"sync"
	"time"
)

// Token identifies a timer started on a Set. The zero Token is never issued.
type Token uint64

// Set owns a group of cancellable timers. Each call session holds exactly one Set so
// teardown has a single place to stop every pending callback.
type Set struct {
	clock  Clock
	mu     sync.Mutex
	next   Token
	live   map[Token]Stopper
	closed bool
}

func NewSet(clock Clock) *Set {
	if clock == nil {
		clock = RealClock{}
	}
	return &Set{clock: clock, live: make(map[Token]Stopper)}
}

func (s *Set) Clock() Clock { return s.clock }

// Start schedules fn after d. fn only runs if the token has not been cancelled.
// Starting on a closed Set returns the zero Token and never runs fn.
func (s *Set) Start(d time.Duration, fn func()) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.next++
	tok := s.next
	s.live[tok] = s.clock.AfterFunc(d, func() {
		if !s.claim(tok) {
			return
		}
		fn()
	})
	return tok
}

// Cancel stops the timer. It is idempotent and reports whether the timer was still pending.
func (s *Set) Cancel(tok Token) bool {
	if tok == 0 {
		return false
	}
	s.mu.Lock()
	st, ok := s.live[tok]
	delete(s.live, tok)
	s.mu.Unlock()
	if !ok {
		return false
	}
	st.Stop()
	return true
}

// Pending reports whether tok is scheduled and has not fired.
func (s *Set) Pending(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[tok]
	return ok
}

func (s *Set) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// CancelAll stops every pending timer and refuses new ones.
func (s *Set) CancelAll() {
	s.mu.Lock()
	s.closed = true
	live := s.live
	s.live = make(map[Token]Stopper)
	s.mu.Unlock()
	for _, st := range live {
		st.Stop()
	}
}

func (s *Set) claim(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[tok]; !ok {
		return false
	}
	delete(s.live, tok)
	return true
}
