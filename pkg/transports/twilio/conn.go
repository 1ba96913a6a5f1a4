package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/transports"
)

const writeWait = 10 * time.Second

var errSendBufferFull = errorsx.New(errorsx.ReasonTransportSend, "send buffer full")

// Inbound media stream events.
type StreamEvent struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *StreamStart `json:"start,omitempty"`
	Media     *StreamMedia `json:"media,omitempty"`
	Mark      *StreamMark  `json:"mark,omitempty"`
	Stop      *StreamStop  `json:"stop,omitempty"`
}

type StreamStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type StreamMedia struct {
	Payload string `json:"payload"`
}

type StreamMark struct {
	Name string `json:"name"`
}

type StreamStop struct {
	CallSID string `json:"callSid"`
}

// outbound is the only shape written back: media and mark events.
type outbound struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     *StreamMedia `json:"media,omitempty"`
	Mark      *StreamMark  `json:"mark,omitempty"`
}

// mediaConn is one media stream websocket. Reads happen on the serving goroutine and
// writes on a dedicated writer so a slow socket never blocks playback pacing.
type mediaConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	mu        sync.Mutex
	streamSID string
	sendCh    chan []byte
	closed    bool
	done      chan struct{}
}

func newMediaConn(ws *websocket.Conn, buffer int, logger *slog.Logger) *mediaConn {
	c := &mediaConn{
		ws:     ws,
		logger: logger,
		sendCh: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// serve runs the read loop. The stream is stopped exactly once, on stop or disconnect.
func (c *mediaConn) serve(ctx context.Context, h transports.Handler) {
	defer c.close()
	var stream transports.Stream
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if stream != nil {
				stream.Stop("socket_closed")
			}
			return
		}
		var evt StreamEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil || stream != nil {
				continue
			}
			start := transports.StreamStart{
				StreamID:   evt.Start.StreamSID,
				CallSID:    evt.Start.CallSID,
				CallID:     evt.Start.CustomParameters[CallIDParam],
				Parameters: evt.Start.CustomParameters,
			}
			if start.StreamID == "" {
				start.StreamID = evt.StreamSID
			}
			c.mu.Lock()
			c.streamSID = start.StreamID
			c.mu.Unlock()
			st, err := h.OpenStream(ctx, start, c)
			if err != nil {
				c.logger.Warn("stream_open_failed",
					slog.String("stream_id", start.StreamID),
					slog.String("call_sid", start.CallSID),
					slog.String("call_id", start.CallID),
					slog.String("reason_code", string(errorsx.Reason(err))),
					slog.String("error", err.Error()))
				return
			}
			stream = st
		case "media":
			if stream == nil || evt.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil || len(payload) == 0 {
				continue
			}
			stream.PushAudio(payload)
		case "mark":
			if evt.Mark != nil {
				c.logger.Debug("mark_ack", slog.String("stream_id", c.stream()), slog.String("name", evt.Mark.Name))
			}
		case "stop":
			if stream != nil {
				stream.Stop("stream_stopped")
			}
			return
		}
	}
}

func (c *mediaConn) stream() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSID
}

// SendMedia queues one µ-law frame for the caller.
func (c *mediaConn) SendMedia(ulaw []byte) error {
	return c.enqueue(outbound{
		Event: "media",
		Media: &StreamMedia{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
}

// SendMark queues a named mark; Twilio echoes it once preceding audio has played.
func (c *mediaConn) SendMark(name string) error {
	return c.enqueue(outbound{Event: "mark", Mark: &StreamMark{Name: name}})
}

func (c *mediaConn) enqueue(msg outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	msg.StreamSID = c.streamSID
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- b:
		return nil
	default:
		c.logger.Warn("send_dropped",
			slog.String("stream_id", c.streamSID),
			slog.String("event", msg.Event),
			slog.String("reason_code", string(errorsx.ReasonTransportSend)))
		return errSendBufferFull
	}
}

func (c *mediaConn) writeLoop() {
	defer close(c.done)
	for msg := range c.sendCh {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug("ws_write_failed", slog.String("error", err.Error()))
			_ = c.ws.Close()
			for range c.sendCh {
			}
			return
		}
	}
}

// close stops the writer after it flushes queued messages, then closes the socket.
func (c *mediaConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()
	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	_ = c.ws.Close()
}
