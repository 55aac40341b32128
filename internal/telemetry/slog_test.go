package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetupLogger_JSONFormat_ProducesValidJSON(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "json", "info", "")
	defer setupLogger(&bytes.Buffer{}, "text", "error", "")

	buf.Reset()
	slog.Info("test message", "key", "value")

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("JSON handler produced no output")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, line)
	}
	if obj["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", obj["msg"], "test message")
	}
	if obj["key"] != "value" {
		t.Errorf("key = %v, want %q", obj["key"], "value")
	}
}

func TestSetupLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "text", "info", "")
	defer setupLogger(&bytes.Buffer{}, "text", "error", "")

	buf.Reset()
	slog.Info("plain message")
	if !strings.Contains(buf.String(), "msg=\"plain message\"") {
		t.Errorf("text output = %q, want msg=\"plain message\"", buf.String())
	}
}

func TestSetLogLevel_FiltersAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "text", "info", "")
	defer setupLogger(&bytes.Buffer{}, "text", "error", "")

	buf.Reset()
	slog.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record emitted at info level: %q", buf.String())
	}

	SetLogLevel("debug")
	buf.Reset()
	slog.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug record missing after SetLogLevel(debug): %q", buf.String())
	}
}

func TestSetupLogger_ServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "json", "info", "orbit")
	defer setupLogger(&bytes.Buffer{}, "text", "error", "")

	buf.Reset()
	slog.Info("tagged")

	var obj map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &obj); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if obj["service"] != "orbit" {
		t.Errorf("service = %v, want %q", obj["service"], "orbit")
	}
}
