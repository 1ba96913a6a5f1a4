package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSynthesizeCollectsUntilFinal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		if !strings.HasSuffix(r.URL.Path, "/voice-1/stream-input") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if i == 1 {
				gotText, _ = msg["text"].(string)
			}
		}
		chunk := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		_ = conn.WriteJSON(map[string]any{"audio": chunk, "isFinal": false})
		_ = conn.WriteJSON(map[string]any{"audio": chunk})
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	}))
	defer srv.Close()

	s := New(Config{APIKey: "key", VoiceID: "voice-1", BaseURL: wsURL(srv)}, logging.Discard())
	out, err := s.Synthesize(context.Background(), tts.Request{Text: "Hello there."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(out.Data) != 6 || out.Encoding != tts.EncodingMulaw || out.SampleRate != 8000 {
		t.Fatalf("unexpected audio %+v", out)
	}
	if gotText != "Hello there. " {
		t.Fatalf("unexpected text sent %q", gotText)
	}
}

func TestSynthesizeMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(Config{APIKey: "key", VoiceID: "v", BaseURL: wsURL(srv)}, logging.Discard())
	_, err := s.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonTTSRateLimit) {
		t.Fatalf("expected tts_rate_limit reason, got %s", errorsx.Reason(err))
	}
}

func TestSynthesizeRequiresVoice(t *testing.T) {
	s := New(Config{APIKey: "key"}, logging.Discard())
	if _, err := s.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Fatalf("expected error without a voice")
	}
}

func TestParseFormat(t *testing.T) {
	enc, rate, err := parseFormat("pcm_24000")
	if err != nil || enc != tts.EncodingPCM16 || rate != 24000 {
		t.Fatalf("unexpected %s %d %v", enc, rate, err)
	}
	if _, _, err := parseFormat("mp3_44100"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
