package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
)

// decodeLines parses JSON log output, one record per line.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("record %q is not JSON: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestNewWithWriter_JSONRecord(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.4.0", &buf)

	log.Info("broker listening", "addr", "127.0.0.1:1883")

	recs := decodeLines(t, &buf)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	for k, want := range map[string]string{
		"msg":     "broker listening",
		"service": "graylogic-zwave",
		"version": "1.4.0",
		"addr":    "127.0.0.1:1883",
		"level":   "INFO",
	} {
		if recs[0][k] != want {
			t.Errorf("%s = %v, want %q", k, recs[0][k], want)
		}
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "info", Format: "TEXT"}, "dev", &buf)

	log.Info("bridge started", "mappings", 3)

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Fatalf("text output looks like JSON: %s", out)
	}
	for _, want := range []string{"msg=\"bridge started\"", "service=graylogic-zwave", "mappings=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"info", []string{"INFO", "WARN", "ERROR"}},
		{"", []string{"INFO", "WARN", "ERROR"}},
		{"Warning", []string{"WARN", "ERROR"}},
		{"error", []string{"ERROR"}},
		{"verbose", []string{"INFO", "WARN", "ERROR"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(config.LoggingConfig{Level: tt.level}, "test", &buf)
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")

			recs := decodeLines(t, &buf)
			if len(recs) != len(tt.want) {
				t.Fatalf("records = %d, want %d", len(recs), len(tt.want))
			}
			for i, rec := range recs {
				if rec["level"] != tt.want[i] {
					t.Errorf("record %d level = %v, want %s", i, rec["level"], tt.want[i])
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"trace": slog.LevelInfo,
	} {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(config.LoggingConfig{}, "test", &buf)

	base.Component("uplink").With("topic", "domoticz/in").Warn("queue full")
	base.Info("untagged")

	recs := decodeLines(t, &buf)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0]["component"] != "uplink" || recs[0]["topic"] != "domoticz/in" {
		t.Errorf("scoped record = %v", recs[0])
	}
	if _, ok := recs[1]["component"]; ok {
		t.Error("parent logger should not gain the component attribute")
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil || Default().Logger == nil {
		t.Fatal("Default() returned an unusable logger")
	}
}
