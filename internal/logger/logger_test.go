package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
}

func TestRegistry_SubsystemLevelOverridesRoot(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, Levels{SubsystemWeb: slog.LevelDebug})

	r.Root().Debug("root debug")
	if buf.Len() != 0 {
		t.Fatalf("root debug should be filtered at info, got %s", buf.String())
	}

	r.Logger(SubsystemWeb).Debug("dispatching request", slog.String("path", "/ping"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level = %q, want DEBUG", entry["level"])
	}
	if entry["subsystem"] != SubsystemWeb {
		t.Errorf("subsystem = %q, want %q", entry["subsystem"], SubsystemWeb)
	}
	if entry["path"] != "/ping" {
		t.Errorf("path = %q, want /ping", entry["path"])
	}
}

func TestRegistry_UnknownSubsystemUsesRootLevel(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(&buf, Levels{"": slog.LevelWarn})

	if got := r.Level("networkmap"); got != slog.LevelWarn {
		t.Errorf("Level = %v, want %v", got, slog.LevelWarn)
	}

	l := r.Logger("networkmap")
	l.Info("hidden")
	l.Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"msg":"shown"`) {
		t.Errorf("unexpected line: %s", lines[0])
	}
}

func TestRegistry_LoggerIsCached(t *testing.T) {
	r := NewRegistry(&bytes.Buffer{}, nil)
	if r.Logger(SubsystemWeb) != r.Logger(SubsystemWeb) {
		t.Error("expected the same logger instance for the same subsystem")
	}
	root := r.Root()
	if !root.Enabled(context.Background(), slog.LevelInfo) || root.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("root logger should be enabled at info only")
	}
}

func TestRegistry_DoesNotAliasLevels(t *testing.T) {
	levels := Levels{SubsystemWeb: slog.LevelDebug}
	r := NewRegistry(&bytes.Buffer{}, levels)
	levels[SubsystemWeb] = slog.LevelError

	if got := r.Level(SubsystemWeb); got != slog.LevelDebug {
		t.Errorf("Level = %v, want %v", got, slog.LevelDebug)
	}
}
