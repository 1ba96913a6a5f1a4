package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/resilience"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	VADEvents      bool
	Diarize        bool
	UtteranceEndMS int
	EndpointingMS  int
	// QueueSize bounds audio chunks waiting for the socket.
	QueueSize  int
	MaxRetries int
	Backoff    time.Duration
	CallID     string
	StreamID   string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.Encoding == "" {
		c.Encoding = "mulaw"
	}
	if c.UtteranceEndMS == 0 {
		c.UtteranceEndMS = 1200
	}
	if c.EndpointingMS == 0 {
		c.EndpointingMS = 300
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	return c
}

// Recognizer streams call audio to Deepgram's live transcription endpoint.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	dgClient   *client.WSCallback
	handler    stt.Handler
	queue      chan []byte
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	cancel     context.CancelFunc
	metaLogged bool
	closed     bool
}

func New(cfg Config, logger *slog.Logger) *Recognizer {
	cfg = cfg.withDefaults()
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "deepgram_stt").With(slog.String("call_id", cfg.CallID), slog.String("stream_id", cfg.StreamID)),
		queue:  make(chan []byte, cfg.QueueSize),
	}
}

// NewFactory returns a per-call factory sharing cfg.
func NewFactory(cfg Config, logger *slog.Logger) stt.Factory {
	return func(callID, streamID string) stt.Recognizer {
		c := cfg
		c.CallID = callID
		c.StreamID = streamID
		return New(c, logger)
	}
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) options() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		Channels:       1,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: r.cfg.Interim,
		VadEvents:      r.cfg.VADEvents,
		Diarize:        r.cfg.Diarize,
		UtteranceEndMs: fmt.Sprintf("%d", r.cfg.UtteranceEndMS),
		Endpointing:    fmt.Sprintf("%d", r.cfg.EndpointingMS),
	}
}

// Start connects with retries. Fragments are delivered to h from SDK goroutines.
func (r *Recognizer) Start(ctx context.Context, h stt.Handler) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.cfg.APIKey == "" {
		return errorsx.Wrap(fmt.Errorf("deepgram api key is empty"), errorsx.ReasonSTTConnect)
	}
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	r.mu.Lock()
	r.handler = h
	r.cancel = cancel
	r.pipeReader, r.pipeWriter = pr, pw
	r.mu.Unlock()

	r.logger.Info("initializing deepgram connection",
		slog.String("model", r.cfg.Model),
		slog.Int("sample_rate", r.cfg.SampleRate),
		slog.Int("utterance_end_ms", r.cfg.UtteranceEndMS))

	policy := resilience.RetryPolicy{MaxRetries: r.cfg.MaxRetries, Backoff: r.cfg.Backoff}
	err := policy.Do(ctx, func(ctx context.Context) error {
		dg, err := client.NewWSUsingCallback(ctx, r.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, r.options(), &callback{parent: r})
		if err != nil {
			return err
		}
		if !dg.Connect() {
			return fmt.Errorf("deepgram connection failed")
		}
		r.mu.Lock()
		r.dgClient = dg
		r.mu.Unlock()
		return nil
	})
	if err != nil {
		cancel()
		_ = pw.Close()
		r.logger.Error("deepgram_connect_failed", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	r.logger.Info("deepgram_connected")

	r.mu.Lock()
	dg := r.dgClient
	r.mu.Unlock()
	go r.pump(ctx, pw)
	go func() {
		if err := dg.Stream(pr); err != nil && ctx.Err() == nil {
			r.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// pump moves queued audio into the SDK pipe so SendAudio never blocks on the socket.
func (r *Recognizer) pump(ctx context.Context, pw *io.PipeWriter) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-r.queue:
			if _, err := pw.Write(chunk); err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("failed to send audio to deepgram",
						slog.String("reason", string(errorsx.ReasonSTTSend)),
						slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// SendAudio queues audio; a full queue drops the chunk.
func (r *Recognizer) SendAudio(audio []byte) error {
	r.mu.Lock()
	started := r.pipeWriter != nil
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errorsx.Wrap(fmt.Errorf("recognizer closed"), errorsx.ReasonSTTSend)
	}
	if !started {
		return errorsx.Wrap(fmt.Errorf("not started"), errorsx.ReasonSTTSend)
	}
	select {
	case r.queue <- audio:
		return nil
	default:
		r.logger.Debug("deepgram_queue_full", slog.Int("size_bytes", len(audio)))
		return nil
	}
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, pw, dg := r.cancel, r.pipeWriter, r.dgClient
	r.mu.Unlock()

	r.logger.Info("closing deepgram connection")
	if cancel != nil {
		cancel()
	}
	if pw != nil {
		_ = pw.Close()
	}
	if dg != nil {
		dg.Stop()
	}
	return nil
}

func (r *Recognizer) emit(f stt.Fragment) {
	r.mu.Lock()
	h := r.handler
	closed := r.closed
	r.mu.Unlock()
	if h != nil && !closed {
		h(f)
	}
}

// fragmentFrom converts a transcript message. ok is false for empty alternatives.
func fragmentFrom(mr *msginterfaces.MessageResponse, at time.Time) (stt.Fragment, bool) {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return stt.Fragment{}, false
	}
	alt := mr.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return stt.Fragment{}, false
	}
	return stt.Fragment{
		Text:       text,
		Confidence: alt.Confidence,
		Speaker:    dominantSpeaker(alt.Words),
		Final:      mr.IsFinal || mr.SpeechFinal,
		At:         at,
	}, true
}

// dominantSpeaker returns the diarization label covering most words, or "" when the
// stream is not diarized.
func dominantSpeaker(words []msginterfaces.Word) string {
	counts := make(map[int]int)
	best, bestN := 0, 0
	for _, w := range words {
		if w.Speaker == nil {
			continue
		}
		id := *w.Speaker
		counts[id]++
		if n := counts[id]; n > bestN || (n == bestN && id < best) {
			best, bestN = id, n
		}
	}
	if bestN == 0 {
		return ""
	}
	return strconv.Itoa(best)
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	f, ok := fragmentFrom(mr, time.Now())
	if !ok {
		return nil
	}
	c.parent.logger.Debug("transcript_received",
		slog.Bool("is_final", f.Final),
		slog.Float64("confidence", f.Confidence))
	c.parent.emit(f)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	logged := c.parent.metaLogged
	c.parent.metaLogged = true
	c.parent.mu.Unlock()
	if !logged {
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event")
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event", slog.Int("utterance_end_ms", c.parent.cfg.UtteranceEndMS))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(byData)))
	return nil
}

var _ stt.Recognizer = (*Recognizer)(nil)
