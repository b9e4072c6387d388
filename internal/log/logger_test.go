// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name:     "defaults when no env vars",
			envVars:  map[string]string{},
			expected: &Config{Level: "info", Format: FormatJSON},
		},
		{
			name:     "LOG_LEVEL=debug",
			envVars:  map[string]string{"LOG_LEVEL": "debug"},
			expected: &Config{Level: "debug", Format: FormatJSON},
		},
		{
			name:     "STORYKEEP_LOG_LEVEL wins over LOG_LEVEL",
			envVars:  map[string]string{"LOG_LEVEL": "error", "STORYKEEP_LOG_LEVEL": "TRACE"},
			expected: &Config{Level: "trace", Format: FormatJSON},
		},
		{
			name:     "STORYKEEP_DEBUG wins over everything",
			envVars:  map[string]string{"STORYKEEP_DEBUG": "1", "STORYKEEP_LOG_LEVEL": "error"},
			expected: &Config{Level: "debug", Format: FormatJSON, AddSource: true},
		},
		{
			name:     "LOG_FORMAT=text",
			envVars:  map[string]string{"LOG_FORMAT": "TEXT"},
			expected: &Config{Level: "info", Format: FormatText},
		},
		{
			name:     "LOG_SOURCE=1",
			envVars:  map[string]string{"LOG_SOURCE": "1"},
			expected: &Config{Level: "info", Format: FormatJSON, AddSource: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"STORYKEEP_DEBUG", "STORYKEEP_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.expected.Level {
				t.Errorf("expected level %q, got %q", tt.expected.Level, cfg.Level)
			}
			if cfg.Format != tt.expected.Format {
				t.Errorf("expected format %q, got %q", tt.expected.Format, cfg.Format)
			}
			if cfg.AddSource != tt.expected.AddSource {
				t.Errorf("expected AddSource %v, got %v", tt.expected.AddSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	logger.Info("lock acquired", LockPathKey, "/data/story.json.lock")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}

	if logEntry["msg"] != "lock acquired" {
		t.Errorf("expected msg field to be 'lock acquired', got: %v", logEntry["msg"])
	}
	if logEntry[LockPathKey] != "/data/story.json.lock" {
		t.Errorf("expected lock_path field, got: %v", logEntry[LockPathKey])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("expected level field to be 'INFO', got: %v", logEntry["level"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	logger.Info("document written", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "document written") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected output to contain 'key=value', got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := ParseLevel(tt.input); level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	tests := []struct {
		name          string
		configLevel   string
		logFunc       func(*slog.Logger)
		shouldContain bool
	}{
		{"debug at debug", "debug", func(l *slog.Logger) { l.Debug("m") }, true},
		{"debug at info", "info", func(l *slog.Logger) { l.Debug("m") }, false},
		{"info at warn", "warn", func(l *slog.Logger) { l.Info("m") }, false},
		{"warn at warn", "warn", func(l *slog.Logger) { l.Warn("m") }, true},
		{"trace at debug", "debug", func(l *slog.Logger) { Trace(l, "m") }, false},
		{"trace at trace", "trace", func(l *slog.Logger) { Trace(l, "m") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&Config{Level: tt.configLevel, Format: FormatJSON, Output: &buf})
			tt.logFunc(logger)

			contains := buf.Len() > 0
			if contains != tt.shouldContain {
				t.Errorf("expected log output=%v, got output=%v (output: %s)", tt.shouldContain, contains, buf.String())
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger = WithComponent(logger, "filelock")
	logger = WithPath(logger, "/data/story.json")
	logger.LogAttrs(context.Background(), slog.LevelInfo, "reclaimed",
		Int(PIDKey, 42),
		Bool("stale", true),
		String(EventKey, "stale_reclaimed"),
		Duration("wait", 12),
		Error(errors.New("boom")),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	want := map[string]interface{}{
		ComponentKey: "filelock",
		PathKey:      "/data/story.json",
		PIDKey:       float64(42),
		"stale":      true,
		EventKey:     "stale_reclaimed",
		"wait_ms":    float64(12),
		"error":      "boom",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestNilConfigAndDiscard(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("New(nil) returned nil")
	}

	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}

	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled")
	}

	given := New(&Config{Output: &bytes.Buffer{}})
	if OrDiscard(given) != given {
		t.Error("OrDiscard should return the given logger")
	}
}
