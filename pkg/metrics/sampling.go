package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards roughly rate of the events it sees. Session lifecycle events
// and breaker transitions are always forwarded so per-call accounting stays complete.
type SamplingObserver struct {
	inner   Observer
	every   uint64
	counter atomic.Uint64
}

var unsampled = map[string]bool{
	EventSessionOpened:      true,
	EventSessionClosed:      true,
	EventRecognizerDegraded: true,
	EventBreakerOpen:        true,
	EventBreakerClose:       true,
	EventMetricsDropped:     true,
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var every uint64
	switch {
	case rate <= 0:
		every = 0
	case rate >= 1:
		every = 1
	default:
		every = uint64(math.Round(1 / rate))
		if every == 0 {
			every = 1
		}
	}
	return &SamplingObserver{inner: inner, every: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if unsampled[ev.Name] || s.every == 1 {
		s.inner.RecordEvent(ev)
		return
	}
	if s.every == 0 {
		return
	}
	if s.counter.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}
