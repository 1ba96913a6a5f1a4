package tts

import "context"

const (
	EncodingMulaw = "mulaw"
	EncodingPCM16 = "linear16"
)

// Request is one utterance to synthesize.
type Request struct {
	Text string
	// VoiceID overrides the adapter's default voice when set.
	VoiceID string
}

// Audio is a complete synthesized utterance.
type Audio struct {
	Data       []byte
	Encoding   string
	SampleRate int
}

// Synthesizer defines the contract for any text-to-speech vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text to audio. Streaming vendors collect chunks until the
	// utterance is final.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}
