package mock

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/llm"
)

func TestCompleterRepeatsLastReply(t *testing.T) {
	c := NewCompleter(LLMConfig{Replies: []string{"one", "two"}})
	var got []string
	for i := 0; i < 3; i++ {
		text, err := c.Complete(context.Background(), llm.Request{})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		got = append(got, text)
	}
	if got[0] != "one" || got[1] != "two" || got[2] != "two" {
		t.Fatalf("unexpected replies %v", got)
	}
}

func TestRecognizerEmitsAfterEnoughAudio(t *testing.T) {
	r := NewRecognizer(STTConfig{Transcripts: []string{"hello there"}, EveryBytes: 320})
	got := make(chan stt.Fragment, 1)
	if err := r.Start(context.Background(), func(f stt.Fragment) { got <- f }); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = r.SendAudio(make([]byte, 160))
	select {
	case <-got:
		t.Fatalf("emitted too early")
	default:
	}
	_ = r.SendAudio(make([]byte, 160))
	select {
	case f := <-got:
		if f.Text != "hello there" || !f.Final {
			t.Fatalf("unexpected fragment %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a fragment")
	}
}

func TestSynthesizerSizesSilence(t *testing.T) {
	out, err := NewSynthesizer().Synthesize(context.Background(), tts.Request{Text: "two words"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(out.Data) != 2*bytesPerWord || out.Encoding != tts.EncodingMulaw {
		t.Fatalf("unexpected audio %d %s", len(out.Data), out.Encoding)
	}
}
