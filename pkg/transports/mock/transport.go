package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/callbridge/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// It places calls by recording them and plays media legs straight into a Handler.
type Transport struct {
	handler transports.Handler
	closed  atomic.Bool

	mu      sync.Mutex
	dials   []transports.DialRequest
	hangups []string
	next    int
	DialErr error
}

func New(handler transports.Handler) *Transport {
	return &Transport{handler: handler}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.closed.Store(true)
	return nil
}

// SetHandler attaches the call side after construction.
func (t *Transport) SetHandler(h transports.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) Dial(_ context.Context, req transports.DialRequest) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialErr != nil {
		return "", t.DialErr
	}
	t.next++
	t.dials = append(t.dials, req)
	return fmt.Sprintf("CA%04d", t.next), nil
}

func (t *Transport) Hangup(_ context.Context, callSID string) error {
	t.mu.Lock()
	t.hangups = append(t.hangups, callSID)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Dials() []transports.DialRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transports.DialRequest(nil), t.dials...)
}

func (t *Transport) Hangups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hangups...)
}

// Connect opens a media leg on the handler, as a stream start event would.
func (t *Transport) Connect(ctx context.Context, start transports.StreamStart) (*Leg, error) {
	if t.closed.Load() {
		return nil, errors.New("transport stopped")
	}
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return nil, errors.New("no handler")
	}
	leg := &Leg{}
	st, err := h.OpenStream(ctx, start, leg)
	if err != nil {
		return nil, err
	}
	leg.stream = st
	return leg, nil
}

// Status delivers a status callback to the handler.
func (t *Transport) Status(ctx context.Context, update transports.StatusUpdate) error {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return errors.New("no handler")
	}
	return h.CallStatus(ctx, update)
}

// Leg is one connected media stream. It records everything the call sends back.
type Leg struct {
	stream transports.Stream

	mu    sync.Mutex
	media [][]byte
	marks []string
}

func (l *Leg) SendMedia(ulaw []byte) error {
	l.mu.Lock()
	l.media = append(l.media, append([]byte(nil), ulaw...))
	l.mu.Unlock()
	return nil
}

func (l *Leg) SendMark(name string) error {
	l.mu.Lock()
	l.marks = append(l.marks, name)
	l.mu.Unlock()
	return nil
}

// Push sends inbound caller audio.
func (l *Leg) Push(ulaw []byte) { l.stream.PushAudio(ulaw) }

func (l *Leg) Stop(reason string) { l.stream.Stop(reason) }

func (l *Leg) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.media)
}

func (l *Leg) Marks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.marks...)
}

var (
	_ transports.Transport      = (*Transport)(nil)
	_ transports.OutboundDialer = (*Transport)(nil)
	_ transports.CallHanger     = (*Transport)(nil)
)
