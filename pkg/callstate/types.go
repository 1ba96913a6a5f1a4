package callstate

import (
	"context"
	"errors"
	"time"
)

// Speaker attributes an utterance.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerProspect Speaker = "prospect"
)

// Utterance is one transcript entry. Confidence is only set for recognized prospect speech.
type Utterance struct {
	Speaker       Speaker   `json:"speaker"`
	Text          string    `json:"text"`
	Confidence    float64   `json:"confidence,omitempty"`
	HasConfidence bool      `json:"has_confidence,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	// Opening marks the agent's greeting. It is kept for the record but does not count
	// as a conversational turn.
	Opening bool `json:"opening,omitempty"`
}

// Lead is the prospect context supplied when the call was initiated.
type Lead struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	// Script is the opening script text; its first line doubles as the greeting.
	Script  string `json:"script,omitempty"`
	Persona string `json:"persona,omitempty"`
	Region  string `json:"region,omitempty"`
	Voice   string `json:"voice,omitempty"`
}

// Record is the pre-registered call the media stream resolves against.
type Record struct {
	CallID    string    `json:"call_id"`
	CallSID   string    `json:"call_sid,omitempty"`
	Lead      Lead      `json:"lead"`
	Backend   string    `json:"backend,omitempty"`
	Status    string    `json:"status,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Outcome is written when a call is finalized.
type Outcome struct {
	Status  string
	Summary string
	EndedAt time.Time
}

var ErrNotFound = errors.New("call record not found")

// Store is the call registry shared with the call-initiation process. The bridge reads
// records, appends transcript entries and finalizes; it never deletes.
type Store interface {
	Register(ctx context.Context, rec Record) error
	Lookup(ctx context.Context, callID string) (Record, bool, error)
	AppendTranscript(ctx context.Context, callID string, u Utterance) error
	Transcript(ctx context.Context, callID string) ([]Utterance, error)
	Finalize(ctx context.Context, callID string, out Outcome) error
}
