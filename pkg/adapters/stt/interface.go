package stt

import (
	"context"
	"time"
)

// Fragment is one transcript event from a recognizer.
type Fragment struct {
	Text       string
	Confidence float64
	Speaker    string
	Final      bool
	At         time.Time
}

// Handler receives fragments. Implementations call it from their own goroutines.
type Handler func(Fragment)

// Recognizer defines the contract for any streaming speech-to-text vendor.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the recognition connection; fragments are delivered to h.
	Start(ctx context.Context, h Handler) error
	// SendAudio queues audio for recognition without blocking the caller.
	SendAudio(audio []byte) error
	// Close shuts down the connection.
	Close() error
}

// Factory builds one recognizer per call session.
type Factory func(callID, streamID string) Recognizer

// Config contains vendor-agnostic recognition settings.
type Config struct {
	CallID     string
	StreamID   string
	TraceID    string
	SampleRate int
	Encoding   string
	Language   string
}
