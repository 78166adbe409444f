package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", "json", &buf)

	logger.Info("hidden")
	logger.Warn("lock busy", slog.String("project", "shop"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record above warn level, got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "lock busy" || record["project"] != "shop" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", "text", &buf)

	logger.Debug("planning", slog.Int("steps", 3))

	out := buf.String()
	if !strings.Contains(out, "planning") || !strings.Contains(out, "steps=3") {
		t.Fatalf("unexpected text output: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no color codes for a non-terminal writer: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextLogger(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != nil {
		t.Fatalf("expected no logger on a bare context")
	}
	if FromContextOrDefault(ctx) != slog.Default() {
		t.Fatalf("expected default logger fallback")
	}

	logger := New("info", "json", &bytes.Buffer{})
	ctx = ContextWithLogger(ctx, logger)
	if FromContext(ctx) != logger {
		t.Fatalf("expected logger from context")
	}
	if ContextWithLogger(ctx, nil) != ctx {
		t.Fatalf("expected a nil logger to leave the context unchanged")
	}
}
