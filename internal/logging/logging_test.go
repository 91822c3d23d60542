package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSilentByDefault(t *testing.T) {
	SetLogger(nil)
	if Logger().Enabled(t.Context(), slog.LevelError) {
		t.Error("default logger should discard everything")
	}
}

func TestForTagsPackage(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	defer SetLogger(nil)

	For("loop").Info("scheduler started")
	if out := buf.String(); !strings.Contains(out, "pkg=loop") || !strings.Contains(out, "scheduler started") {
		t.Errorf("output %q", out)
	}
}
