package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPairsDropsDanglingKey(t *testing.T) {
	got := pairs([]any{"a", 1, "b", errors.New("boom"), "dangling"})
	if len(got) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(got))
	}
	if got[1].val != "boom" {
		t.Fatalf("expected error to be stringified, got %v", got[1].val)
	}
}

func TestSLogLoggerWritesAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Warn("index rebuild failed", "err", errors.New("store down"), "policies", 3)
	out := buf.String()
	if !strings.Contains(out, "store down") || !strings.Contains(out, "policies=3") {
		t.Fatalf("unexpected log output: %s", out)
	}
}
