// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerWritesThroughToZerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	handler := NewSlogHandlerWithLogger(zl)
	slogger := slog.New(handler)

	slogger.Info("supervisor event", slog.String("service", "sweeper"))

	output := buf.String()
	if !strings.Contains(output, "supervisor event") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "sweeper") {
		t.Errorf("expected output to contain attribute value, got: %s", output)
	}
}

func TestSlogHandlerEnabledRespectsLevel(t *testing.T) {
	zl := zerolog.New(&bytes.Buffer{}).Level(zerolog.WarnLevel)
	handler := NewSlogHandlerWithLogger(zl)

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}

func TestSlogHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	handler := NewSlogHandlerWithLogger(zl).
		WithAttrs([]slog.Attr{slog.String("component", "api")}).
		WithGroup("request")

	slogger := slog.New(handler)
	slogger.Info("handled", slog.String("method", "POST"))

	output := buf.String()
	if !strings.Contains(output, "component") {
		t.Errorf("expected pre-bound attribute in output: %s", output)
	}
	if !strings.Contains(output, "request.method") {
		t.Errorf("expected grouped attribute key in output: %s", output)
	}
}

func TestNewSlogLoggerWritesToGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	slogger := NewSlogLogger()
	if slogger == nil {
		t.Fatal("NewSlogLogger() = nil, want non-nil")
	}

	slogger.Info("from slog bridge")
	if !strings.Contains(buf.String(), "from slog bridge") {
		t.Errorf("expected global logger to receive message, got: %s", buf.String())
	}
}

func TestNewSlogLoggerWithLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	slogger := NewSlogLoggerWithLevel("error")
	slogger.Info("should be filtered")
	slogger.Error("should appear")

	output := buf.String()
	if strings.Contains(output, "should be filtered") {
		t.Errorf("expected info message to be filtered out, got: %s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("expected error message to appear, got: %s", output)
	}
}
