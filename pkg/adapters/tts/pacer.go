package tts

import (
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/timers"
)

// MarkAudioComplete names the mark sent after an utterance finishes playing.
const MarkAudioComplete = "audio_complete"

// Sink receives paced telephony output.
type Sink interface {
	SendMedia(payload []byte) error
	SendMark(name string) error
}

type PacerConfig struct {
	FrameBytes int
	Interval   time.Duration
}

func (c PacerConfig) withDefaults() PacerConfig {
	if c.FrameBytes <= 0 {
		c.FrameBytes = 160
	}
	if c.Interval <= 0 {
		c.Interval = 20 * time.Millisecond
	}
	return c
}

type pacerItem struct {
	frame []byte
	mark  bool
	done  func()
}

// Pacer releases µ-law audio one frame per interval so the telephony leg receives it at
// real-time rate. It schedules through the owning session's timer set, so at most one
// pacing timer is pending at a time.
type Pacer struct {
	cfg    PacerConfig
	timers *timers.Set
	sink   Sink

	mu      sync.Mutex
	queue   []pacerItem
	tok     timers.Token
	running bool
	stopped bool
}

func NewPacer(set *timers.Set, sink Sink, cfg PacerConfig) *Pacer {
	return &Pacer{cfg: cfg.withDefaults(), timers: set, sink: sink}
}

// Enqueue splits audio into frames and queues them behind anything already playing.
func (p *Pacer) Enqueue(ulaw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	for _, f := range audio.Frames(ulaw, p.cfg.FrameBytes) {
		p.queue = append(p.queue, pacerItem{frame: f})
	}
	p.kickLocked()
}

// Finish queues a completion mark; done runs once every frame queued before it was sent.
func (p *Pacer) Finish(done func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.queue = append(p.queue, pacerItem{mark: true, done: done})
	p.kickLocked()
}

// Play queues a whole utterance followed by its completion mark.
func (p *Pacer) Play(ulaw []byte, done func()) {
	p.Enqueue(ulaw)
	p.Finish(done)
}

// Clear drops queued frames that have not been sent. Pending marks are kept.
func (p *Pacer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.queue[:0]
	for _, it := range p.queue {
		if it.mark {
			kept = append(kept, it)
		}
	}
	p.queue = kept
}

// Stop cancels the pacing timer and discards everything queued. Nothing is sent afterwards.
func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.queue = nil
	p.running = false
	p.timers.Cancel(p.tok)
	p.tok = 0
}

// Busy reports whether audio or marks are still queued.
func (p *Pacer) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pacer) kickLocked() {
	if p.running || len(p.queue) == 0 {
		return
	}
	p.running = true
	p.tok = p.timers.Start(0, p.tick)
}

func (p *Pacer) tick() {
	var dones []func()
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	for len(p.queue) > 0 && p.queue[0].mark {
		_ = p.sink.SendMark(MarkAudioComplete)
		if d := p.queue[0].done; d != nil {
			dones = append(dones, d)
		}
		p.queue = p.queue[1:]
	}
	if len(p.queue) > 0 {
		_ = p.sink.SendMedia(p.queue[0].frame)
		p.queue = p.queue[1:]
		p.tok = p.timers.Start(p.cfg.Interval, p.tick)
	} else {
		p.running = false
		p.tok = 0
	}
	p.mu.Unlock()

	for _, d := range dones {
		d()
	}
}
