package session

import (
	"context"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

// Backend is the voice agent behind a session. Composed backends chain recognizer,
// dialogue and synthesizer; bimodal backends hold one audio-in/audio-out connection.
type Backend interface {
	Name() string
	// Start connects providers and begins the conversation. ctx ends with the session.
	Start(ctx context.Context, s *Session) error
	// PushAudio takes one inbound 8 kHz µ-law frame. It must not block.
	PushAudio(ulaw []byte)
	// CancelTurns cancels pending turn detection.
	CancelTurns()
	Close() error
}

// BackendFactory builds the backend for a call record.
type BackendFactory func(rec callstate.Record) (Backend, error)
