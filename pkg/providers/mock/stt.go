package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
)

type STTConfig struct {
	// Transcripts are emitted one per EveryBytes of received audio.
	Transcripts []string
	EveryBytes  int
	Confidence  float64
}

// Recognizer pretends to hear a scripted line whenever enough audio has arrived.
type Recognizer struct {
	cfg STTConfig

	mu       sync.Mutex
	handler  stt.Handler
	received int
	next     int
	started  bool
}

func NewRecognizer(cfg STTConfig) *Recognizer {
	if len(cfg.Transcripts) == 0 {
		cfg.Transcripts = []string{"mock transcript"}
	}
	if cfg.EveryBytes <= 0 {
		cfg.EveryBytes = 8000 * 3
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = 0.95
	}
	return &Recognizer{cfg: cfg}
}

func NewRecognizerFactory(cfg STTConfig) stt.Factory {
	return func(string, string) stt.Recognizer { return NewRecognizer(cfg) }
}

func (r *Recognizer) Name() string { return "mock_stt" }

func (r *Recognizer) Start(_ context.Context, h stt.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
	r.started = true
	return nil
}

func (r *Recognizer) SendAudio(audio []byte) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errors.New("not started")
	}
	r.received += len(audio)
	if r.received < r.cfg.EveryBytes || r.next >= len(r.cfg.Transcripts) {
		r.mu.Unlock()
		return nil
	}
	r.received = 0
	text := r.cfg.Transcripts[r.next]
	r.next++
	h := r.handler
	r.mu.Unlock()

	if h != nil {
		go h(stt.Fragment{Text: text, Confidence: r.cfg.Confidence, Final: true, At: time.Now()})
	}
	return nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	r.handler = nil
	return nil
}

var _ stt.Recognizer = (*Recognizer)(nil)
