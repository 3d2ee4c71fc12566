package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/hearthhub/hearth-core/internal/infrastructure/config"
)

func TestNewJSONFormat(t *testing.T) {
	logger := New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "0.1.0")

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewTextFormat(t *testing.T) {
	logger := New(config.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Output: "stderr",
	}, "0.1.0")

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWithProducesTaggedChild(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	busLogger := logger.With("component", "bus")
	if busLogger == logger {
		t.Fatal("expected child logger to be distinct from parent")
	}

	busLogger.Info("delivering event", "event_type", "state_changed", "listeners", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["component"] != "bus" {
		t.Errorf("expected component=bus, got %v", entry["component"])
	}
	if entry["event_type"] != "state_changed" {
		t.Errorf("expected event_type=state_changed, got %v", entry["event_type"])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}

func TestServiceAndVersionFields(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, nil).WithAttrs([]slog.Attr{
		slog.String("service", "hearth"),
		slog.String("version", "0.1.0"),
	})
	logger := &Logger{Logger: slog.New(handler)}

	logger.Info("automation triggered", "automation_id", "hallway_motion")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["service"] != "hearth" {
		t.Errorf("expected service=hearth, got %v", entry["service"])
	}
	if entry["version"] != "0.1.0" {
		t.Errorf("expected version=0.1.0, got %v", entry["version"])
	}
	if entry["msg"] != "automation triggered" {
		t.Errorf("expected msg='automation triggered', got %v", entry["msg"])
	}
	if entry["automation_id"] != "hallway_motion" {
		t.Errorf("expected automation_id=hallway_motion, got %v", entry["automation_id"])
	}
}
