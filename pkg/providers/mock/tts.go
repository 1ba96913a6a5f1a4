package mock

import (
	"context"
	"strings"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/audio"
)

// bytesPerWord is roughly 300 ms of 8 kHz µ-law.
const bytesPerWord = 2400

// Synthesizer returns µ-law silence sized to the text.
type Synthesizer struct{}

func NewSynthesizer() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if err := ctx.Err(); err != nil {
		return tts.Audio{}, err
	}
	words := len(strings.Fields(req.Text))
	if words == 0 {
		words = 1
	}
	return tts.Audio{
		Data:       audio.Silence(words * bytesPerWord),
		Encoding:   tts.EncodingMulaw,
		SampleRate: audio.TelephonyRate,
	}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
