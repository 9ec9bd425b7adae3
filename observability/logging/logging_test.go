package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.name); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestJSONOutputCarriesServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "deedmarketd", "production", "info")
	logger.Info("node started", "rpc", ":8545")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["message"] != "node started" {
		t.Fatalf("unexpected message %q", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity %q", line["severity"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp key: %v", line)
	}
	if line["service"] != "deedmarketd" || line["env"] != "production" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if line["rpc"] != ":8545" {
		t.Fatalf("call-site attribute lost: %v", line)
	}
}

func TestConfiguredLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "deedmarketd", "production", "warn")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted despite warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestLocalEnvironmentUsesTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "deedmarketd", "local", "debug")
	logger.Debug("listing asset", "id", 7)

	out := buf.String()
	if json.Valid(buf.Bytes()) {
		t.Fatalf("expected text output for local runs, got JSON: %q", out)
	}
	if !strings.Contains(out, `msg="listing asset"`) || !strings.Contains(out, "id=7") {
		t.Fatalf("unexpected text line: %q", out)
	}
}
