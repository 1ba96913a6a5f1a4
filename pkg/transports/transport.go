package transports

import (
	"context"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
)

// Transport is the telephony boundary. Implementations own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// StreamStart identifies a media stream as the telephony provider announced it.
type StreamStart struct {
	StreamID string
	CallSID  string
	// CallID is the pre-registered call record id passed through the stream parameters.
	CallID     string
	Parameters map[string]string
}

// StatusUpdate is an out-of-band call status notification.
type StatusUpdate struct {
	CallID  string
	CallSID string
	Status  string
}

// Stream is an open media leg.
type Stream interface {
	// PushAudio hands one inbound 8 kHz µ-law frame to the call. It must not block.
	PushAudio(ulaw []byte)
	Stop(reason string)
}

// Handler is the call side of a transport.
type Handler interface {
	OpenStream(ctx context.Context, start StreamStart, out tts.Sink) (Stream, error)
	CallStatus(ctx context.Context, update StatusUpdate) error
}

// DialRequest describes an outbound call leg.
type DialRequest struct {
	To     string
	From   string
	CallID string
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, req DialRequest) (callSID string, err error)
}

// CallHanger ends a live call from the agent side.
type CallHanger interface {
	Hangup(ctx context.Context, callSID string) error
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
