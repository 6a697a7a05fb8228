package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogComponentTag(t *testing.T) {
	var buf bytes.Buffer
	orig := DefaultLogger
	origLevel := GetLogLevel()
	defer func() {
		SetLogger(orig)
		SetLogLevel(origLevel)
	}()

	SetLogger(NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogLevel(slog.LevelDebug)

	LogInfo(ComponentDrive, "LUN started", "lun", 3)

	out := buf.String()
	if !strings.Contains(out, "component=drive") {
		t.Errorf("missing component tag: %q", out)
	}
	if !strings.Contains(out, "lun=3") {
		t.Errorf("missing attribute: %q", out)
	}
}

func TestSetLogLevel(t *testing.T) {
	orig := GetLogLevel()
	defer SetLogLevel(orig)

	SetLogLevel(slog.LevelError)
	if got := GetLogLevel(); got != slog.LevelError {
		t.Errorf("GetLogLevel() = %v, want %v", got, slog.LevelError)
	}
}
