package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/callbridge/pkg/timers"
)

var (
	ErrDraining      = errors.New("registry is draining")
	ErrDuplicateCall = errors.New("call already has a live session")
)

// Registry indexes live sessions by call id and stream id.
type Registry struct {
	clock timers.Clock

	mu       sync.Mutex
	byCall   map[string]*Session
	byStream map[string]*Session
	draining atomic.Bool
}

func NewRegistry(clock timers.Clock) *Registry {
	if clock == nil {
		clock = timers.RealClock{}
	}
	return &Registry{
		clock:    clock,
		byCall:   make(map[string]*Session),
		byStream: make(map[string]*Session),
	}
}

// Register refuses new sessions while draining and when the call already has one.
func (r *Registry) Register(s *Session) error {
	if r.draining.Load() {
		return ErrDraining
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byCall[s.CallID]; ok && existing != s {
		return ErrDuplicateCall
	}
	r.byCall[s.CallID] = s
	if s.StreamID != "" {
		r.byStream[s.StreamID] = s
	}
	return nil
}

// Lookup accepts a stream id or a call id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byStream[id]; ok {
		return s, true
	}
	s, ok := r.byCall[id]
	return s, ok
}

// Remove drops s from both indexes. Entries that now point at another session are kept.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byCall[s.CallID]; ok && cur == s {
		delete(r.byCall, s.CallID)
	}
	if cur, ok := r.byStream[s.StreamID]; ok && cur == s {
		delete(r.byStream, s.StreamID)
	}
}

// RemoveAfter removes s once grace has elapsed so late packets still resolve it.
func (r *Registry) RemoveAfter(s *Session, grace time.Duration) {
	if grace <= 0 {
		r.Remove(s)
		return
	}
	r.clock.AfterFunc(grace, func() { r.Remove(s) })
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCall)
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.byCall))
	for _, s := range r.byCall {
		all = append(all, s)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.Close(reason)
		r.Remove(s)
	}
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty polls until no sessions remain or ctx ends.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Len() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
