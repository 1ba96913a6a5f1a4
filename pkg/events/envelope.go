package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types published for each call.
const (
	TypeStreamStarted = "call.stream_started"
	TypeCallEnded     = "call.ended"
	TypeCallSummary   = "call.summarized"
)

type Meta struct {
	// Call id the event belongs to.
	CorrelationID *string `json:"correlation_id,omitempty"`
	ID            string  `json:"id"`
	// Emitting service.
	Producer *string   `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope stamps a fresh id and time.
func NewEnvelope(eventType, producer, callID string, data any) Envelope {
	env := Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Time: time.Now().UTC(),
			Type: eventType,
		},
		Data: data,
	}
	if producer != "" {
		env.Meta.Producer = &producer
	}
	if callID != "" {
		env.Meta.CorrelationID = &callID
	}
	return env
}

type StreamStarted struct {
	CallID   string `json:"call_id"`
	StreamID string `json:"stream_id"`
	Backend  string `json:"backend"`
}

type CallEnded struct {
	CallID   string    `json:"call_id"`
	StreamID string    `json:"stream_id,omitempty"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason"`
	Turns    int       `json:"turns"`
	Phase    string    `json:"phase"`
	EndedAt  time.Time `json:"ended_at"`
}

type CallSummarized struct {
	CallID  string `json:"call_id"`
	Summary string `json:"summary"`
}
