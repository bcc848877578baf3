package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultConfigMatchesViperDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Fatalf("expected info level, got %q", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Format)
	}
}

func TestNewLoggerAttachesServiceField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service = "execution-engine"

	logger := NewLogger(cfg)
	if logger.GetLevel().String() != "info" {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}

	var buf bytes.Buffer
	logger.Output(&buf).Info().Msg("probe")
	if !strings.Contains(buf.String(), `"service":"execution-engine"`) {
		t.Fatalf("expected service field in log line, got %s", buf.String())
	}
}
