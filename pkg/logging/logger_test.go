package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WARN, false)
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug/info entries to be filtered, got %q", out)
	}
	if !strings.Contains(out, "WARN: shown") {
		t.Errorf("Expected warn entry, got %q", out)
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, true)
	logger.SetOutput(&buf)

	logger.WithField("section", "s1").Info("exit", map[string]interface{}{"thread": 7})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log entry: %v", err)
	}
	if entry.Level != "INFO" || entry.Message != "exit" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.Fields["section"] != "s1" {
		t.Errorf("Expected section field, got %v", entry.Fields)
	}
	if entry.Fields["thread"] != float64(7) {
		t.Errorf("Expected thread field, got %v", entry.Fields)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(ERROR) {
		t.Error("Discard logger should not enable any level")
	}
	logger.Error("nothing happens")
}
