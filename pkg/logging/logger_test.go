package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitLoggerJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := InitLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	NewComponentLogger(base, "session").Debug("session_opened")
	out := buf.String()
	if !strings.Contains(out, `"component":"session"`) || !strings.Contains(out, `"msg":"session_opened"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}

func TestInitLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger(LogConfig{Level: "loud", Output: &buf})
	logger.Debug("hidden")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug should be filtered at INFO")
	}
	if !strings.Contains(out, "invalid log level") {
		t.Fatalf("expected warning about invalid level, got %q", out)
	}
}
