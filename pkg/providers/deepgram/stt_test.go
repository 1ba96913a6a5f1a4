package deepgram

import (
	"context"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
)

func TestOptionsUseTelephonyDefaults(t *testing.T) {
	r := New(Config{APIKey: "k"}, logging.Discard())
	opts := r.options()
	if opts.Model != "nova-2" || opts.Encoding != "mulaw" || opts.SampleRate != 8000 {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.InterimResults {
		t.Fatalf("expected interim results disabled")
	}
	if opts.UtteranceEndMs != "1200" || opts.Endpointing != "300" {
		t.Fatalf("unexpected endpointing %q/%q", opts.UtteranceEndMs, opts.Endpointing)
	}
}

func TestFragmentFromMessage(t *testing.T) {
	mr := &msginterfaces.MessageResponse{IsFinal: true}
	mr.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: " we use jira ", Confidence: 0.93}}
	f, ok := fragmentFrom(mr, time.Unix(10, 0))
	if !ok {
		t.Fatalf("expected fragment")
	}
	if f.Text != "we use jira" || !f.Final || f.Confidence != 0.93 {
		t.Fatalf("unexpected fragment %+v", f)
	}

	empty := &msginterfaces.MessageResponse{}
	if _, ok := fragmentFrom(empty, time.Now()); ok {
		t.Fatalf("expected no fragment without alternatives")
	}
}

func TestFragmentCarriesDominantSpeaker(t *testing.T) {
	zero, one := 0, 1
	mr := &msginterfaces.MessageResponse{IsFinal: true}
	mr.Channel.Alternatives = []msginterfaces.Alternative{{
		Transcript: "yes we use jira",
		Confidence: 0.9,
		Words: []msginterfaces.Word{
			{Word: "yes", Speaker: &zero},
			{Word: "we", Speaker: &one},
			{Word: "use", Speaker: &one},
			{Word: "jira", Speaker: &one},
		},
	}}
	f, ok := fragmentFrom(mr, time.Now())
	if !ok || f.Speaker != "1" {
		t.Fatalf("expected speaker 1, got %+v", f)
	}

	mr.Channel.Alternatives[0].Words = []msginterfaces.Word{{Word: "yes"}}
	if f, _ := fragmentFrom(mr, time.Now()); f.Speaker != "" {
		t.Fatalf("undiarized words should leave speaker empty, got %q", f.Speaker)
	}
}

func TestStartWithoutKeyFails(t *testing.T) {
	r := New(Config{}, logging.Discard())
	err := r.Start(context.Background(), nil)
	if !errorsx.HasReason(err, errorsx.ReasonSTTConnect) {
		t.Fatalf("expected stt_connect error, got %v", err)
	}
}

func TestSendBeforeStartFails(t *testing.T) {
	r := New(Config{APIKey: "k"}, logging.Discard())
	if err := r.SendAudio([]byte{0xff}); err == nil {
		t.Fatalf("expected error before start")
	}
	_ = r.Close()
	if err := r.SendAudio([]byte{0xff}); !errorsx.HasReason(err, errorsx.ReasonSTTSend) {
		t.Fatalf("expected stt_send error after close, got %v", err)
	}
}
