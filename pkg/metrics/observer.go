package metrics

import "time"

// MetricsEvent is one named occurrence in a call: a session opening, a completed turn,
// a fallback reply. Tags identify the call (call_id, backend, phase); Fields carry
// measurements such as latency_ms.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer must not block: it is called from session loops and provider callbacks.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
