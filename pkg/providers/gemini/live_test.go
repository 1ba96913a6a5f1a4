package gemini

import (
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/harunnryd/callbridge/pkg/backend"
	"github.com/harunnryd/callbridge/pkg/logging"
)

type fakeSession struct {
	audio    []genai.LiveRealtimeInput
	content  []genai.LiveClientContentInput
	incoming []*genai.LiveServerMessage
	closed   bool
}

func (f *fakeSession) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	f.audio = append(f.audio, in)
	return nil
}

func (f *fakeSession) SendClientContent(in genai.LiveClientContentInput) error {
	f.content = append(f.content, in)
	return nil
}

func (f *fakeSession) Receive() (*genai.LiveServerMessage, error) {
	if len(f.incoming) == 0 {
		return nil, errors.New("closed")
	}
	msg := f.incoming[0]
	f.incoming = f.incoming[1:]
	return msg, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func TestConnectConfigRequestsAudioAndTranscripts(t *testing.T) {
	d := NewDialer(Config{APIKey: "k"}, logging.Discard())
	cfg := d.connectConfig(backend.LiveSetup{SystemPrompt: "be brief"})
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Fatalf("expected audio responses")
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Fatalf("expected transcription on both sides")
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("expected system instruction")
	}
	if got := cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != DefaultVoice {
		t.Fatalf("expected default voice, got %s", got)
	}
}

func TestConnSendsTaggedAudio(t *testing.T) {
	f := &fakeSession{}
	c := &conn{sess: f}
	if err := c.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	if err := c.SendText("hello"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if f.audio[0].Audio.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("unexpected mime type %s", f.audio[0].Audio.MIMEType)
	}
	if tc := f.content[0].TurnComplete; tc == nil || !*tc {
		t.Fatalf("expected complete turn")
	}
}

func TestReceiveSkipsNonContentMessages(t *testing.T) {
	f := &fakeSession{incoming: []*genai.LiveServerMessage{
		{SetupComplete: &genai.LiveServerSetupComplete{}},
		{ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}}},
				{InlineData: &genai.Blob{Data: []byte{3, 4}}},
			}},
			OutputTranscription: &genai.Transcription{Text: "hi"},
			TurnComplete:        true,
		}},
	}}
	c := &conn{sess: f}
	ev, err := c.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(ev.Audio) != 4 || ev.OutputText != "hi" || !ev.TurnComplete {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, err := c.Receive(); err == nil {
		t.Fatalf("expected error once the session ends")
	}
}
