// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInitStdout(t *testing.T) {
	shutdown, err := Init("sibyl-test", "dev")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitWithConfigRejectsBadExporter(t *testing.T) {
	if _, err := InitWithConfig("sibyl-test", "dev", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
	if _, err := InitWithConfig("sibyl-test", "dev", Config{Exporter: "otlp"}); err == nil {
		t.Fatalf("expected error for otlp without endpoint")
	}
}

func TestConfigureSlogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info record must be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestConfigureSlogJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")
	logger.Info("hello", "section", "frontend")

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"section":"frontend"`) {
		t.Errorf("unexpected json output: %q", out)
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")

	logger.Info("before")
	SetLogLevel("debug")
	logger.Info("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Errorf("info record must be filtered before the level change: %q", out)
	}
	if !strings.Contains(out, "after") {
		t.Errorf("info record missing after lowering the level: %q", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.expected {
			t.Errorf("parseLogLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewEngineMetrics(t *testing.T) {
	metrics, err := NewEngineMetrics()
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	metrics.RecordInvocation(ctx, 200, "ok", 15*time.Millisecond)
	metrics.RecordCapabilityFailure(ctx, "agent.skills.talk")
	metrics.RecordRuleInjection(ctx)
	metrics.RecordSectionSkip(ctx, "backend")

	// Nil receivers are no-ops so the engine can run unmetered.
	var disabled *EngineMetrics
	disabled.RecordInvocation(ctx, 200, "ok", time.Millisecond)
	disabled.RecordCapabilityFailure(ctx, "x")
	disabled.RecordRuleInjection(ctx)
	disabled.RecordSectionSkip(ctx, "x")
}
