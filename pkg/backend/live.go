package backend

import "context"

// LiveSetup configures one audio-in/audio-out model connection.
type LiveSetup struct {
	SystemPrompt string
	Voice        string
}

// LiveEvent is one message from a live model. Any combination of fields may be set.
type LiveEvent struct {
	// Audio is PCM16 at the dialer's OutputRate.
	Audio         []byte
	InputText     string
	InputFinished bool
	OutputText    string
	TurnComplete  bool
	Interrupted   bool
}

// LiveConn is an open live model session.
type LiveConn interface {
	// SendAudio streams PCM16 at the dialer's InputRate.
	SendAudio(pcm []byte) error
	// SendText adds a complete user turn, prompting the model to speak.
	SendText(text string) error
	// Receive blocks for the next event. It returns an error once the connection ends.
	Receive() (LiveEvent, error)
	Close() error
}

type LiveDialer interface {
	Name() string
	Dial(ctx context.Context, setup LiveSetup) (LiveConn, error)
	InputRate() int
	OutputRate() int
}
