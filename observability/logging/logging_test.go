package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWithEmitsRemappedJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWith("streamvaultd", "test", Options{Writer: &buf})

	logger.Info("gateway listening", "address", ":8080")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "gateway listening" {
		t.Fatalf("unexpected message %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
	if line["service"] != "streamvaultd" || line["env"] != "test" {
		t.Fatalf("missing service attrs: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp key: %v", line)
	}
	if _, ok := line["level"]; ok {
		t.Fatalf("level key should have been renamed: %v", line)
	}
}

func TestSetupWithSuppressesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWith("streamvaultd", "", Options{Writer: &buf, Level: slog.LevelWarn})

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %q", buf.String())
	}

	logger.Warn("loud")
	if buf.Len() == 0 {
		t.Fatal("warn line missing")
	}
}

func TestSetupOmitsEmptyEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWith("streamvaultd", "  ", Options{Writer: &buf})

	logger.Info("boot")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := line["env"]; ok {
		t.Fatalf("blank env should be omitted: %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"  WARN ": slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
