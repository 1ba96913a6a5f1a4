package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// AsyncObserver hands events to inner on a single goroutine so session loops never
// wait on file writes. Events arriving while the buffer is full are counted, not queued.
type AsyncObserver struct {
	inner   Observer
	ch      chan MetricsEvent
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	if inner == nil {
		inner = NoopObserver{}
	}
	a := &AsyncObserver{
		inner: inner,
		ch:    make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (a *AsyncObserver) Dropped() int64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}

// Close drains the buffer into inner and, when any events were discarded, records a
// final metrics_dropped event carrying the count. Close returns after inner has seen
// every queued event; it is safe to call more than once.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	if n := a.dropped.Load(); n > 0 {
		a.inner.RecordEvent(MetricsEvent{Name: EventMetricsDropped, Time: time.Now(), Value: float64(n)})
	}
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
