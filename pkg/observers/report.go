package observers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/metrics"
)

// CallReport is the per-call rollup written when a session closes.
type CallReport struct {
	CallID      string         `json:"call_id"`
	StreamID    string         `json:"stream_id,omitempty"`
	Backend     string         `json:"backend,omitempty"`
	CloseReason string         `json:"close_reason,omitempty"`
	OpenedAt    time.Time      `json:"opened_at,omitempty"`
	ClosedAt    time.Time      `json:"closed_at"`
	DurationSec float64        `json:"duration_seconds"`
	Counts      map[string]int `json:"counts"`
}

// ReportObserver counts events per call and writes <call_id>.report.json into dir.
type ReportObserver struct {
	dir   string
	mu    sync.Mutex
	calls map[string]*CallReport
}

func NewReportObserver(dir string) *ReportObserver {
	return &ReportObserver{dir: dir, calls: make(map[string]*CallReport)}
}

func (o *ReportObserver) RecordEvent(ev metrics.MetricsEvent) {
	callID := ev.Tags["call_id"]
	if callID == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	o.mu.Lock()
	r := o.calls[callID]
	if r == nil {
		r = &CallReport{CallID: callID, Counts: make(map[string]int)}
		o.calls[callID] = r
	}
	r.Counts[ev.Name]++
	if r.StreamID == "" {
		r.StreamID = ev.Tags["stream_id"]
	}
	switch ev.Name {
	case metrics.EventSessionOpened:
		r.OpenedAt = ev.Time.UTC()
		r.Backend = ev.Tags["backend"]
	case metrics.EventSessionClosed:
		r.CloseReason = ev.Tags["reason"]
		r.ClosedAt = ev.Time.UTC()
		if !r.OpenedAt.IsZero() {
			r.DurationSec = r.ClosedAt.Sub(r.OpenedAt).Seconds()
		}
		delete(o.calls, callID)
		o.mu.Unlock()
		_ = o.write(r)
		return
	}
	o.mu.Unlock()
}

func (o *ReportObserver) write(r *CallReport) error {
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.dir, sanitizeID(r.CallID)+".report.json"), b, 0o644)
}

var _ metrics.Observer = (*ReportObserver)(nil)
