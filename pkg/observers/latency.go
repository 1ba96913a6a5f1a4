package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/metrics"
)

// LatencyObserver logs, per call, how long the agent took from the end of a prospect
// turn to the first reply frame.
type LatencyObserver struct {
	mu    sync.Mutex
	calls map[string]*callLatency
	log   *slog.Logger
}

type callLatency struct {
	turnAt  time.Time
	opened  time.Time
	replies int
	totalMs int64
	worstMs int64
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{calls: make(map[string]*callLatency), log: log}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	callID := ev.Tags["call_id"]
	if callID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.calls[callID]
	if c == nil {
		c = &callLatency{}
		o.calls[callID] = c
	}
	switch ev.Name {
	case metrics.EventSessionOpened:
		c.opened = ev.Time
	case metrics.EventTurnCompleted:
		c.turnAt = ev.Time
	case metrics.EventPlaybackStarted:
		if c.turnAt.IsZero() {
			return
		}
		ms := durationMs(c.turnAt, ev.Time)
		c.turnAt = time.Time{}
		c.replies++
		c.totalMs += ms
		if ms > c.worstMs {
			c.worstMs = ms
		}
		o.log.Info("reply_latency", "call_id", callID, "reply_ms", ms)
	case metrics.EventSessionClosed:
		o.logCallLocked(callID, c, ev.Time)
		delete(o.calls, callID)
	}
}

// Pending reports how many calls are being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *LatencyObserver) logCallLocked(callID string, c *callLatency, closedAt time.Time) {
	avg := int64(-1)
	if c.replies > 0 {
		avg = c.totalMs / int64(c.replies)
	}
	o.log.Info("call_latency",
		"call_id", callID,
		"replies", c.replies,
		"avg_reply_ms", avg,
		"worst_reply_ms", c.worstMs,
		"call_ms", durationMs(c.opened, closedAt),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
