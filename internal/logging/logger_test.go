package logging

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"dubber/internal/services"
)

type captureWriter struct {
	lines []string
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.lines = append(w.lines, string(p))
	return len(p), nil
}

func TestConsoleHandlerFormatsComponent(t *testing.T) {
	w := &captureWriter{}
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(w, lvl, false))

	logger.Info("queue started", String(FieldComponent, "workflow-manager"), Int("slots", 3))

	if len(w.lines) != 1 {
		t.Fatalf("expected one line, got %d", len(w.lines))
	}
	line := w.lines[0]
	if !strings.Contains(line, "workflow-manager: queue started") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "slots=3") {
		t.Fatalf("expected attribute in line: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	w := &captureWriter{}
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(w, lvl, false))

	logger.Error("stage failed", String("error_message", "quota exhausted for month"))

	if !strings.Contains(w.lines[0], `error_message="quota exhausted for month"`) {
		t.Fatalf("expected quoted value: %q", w.lines[0])
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	w := &captureWriter{}
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(w, lvl, false))

	ctx := services.WithJobID(context.Background(), "job-77")
	ctx = services.WithStage(ctx, "synthesize")

	WithContext(ctx, logger).Info("segment done")

	line := w.lines[0]
	if !strings.Contains(line, "job_id=job-77") || !strings.Contains(line, "stage=synthesize") {
		t.Fatalf("context fields missing: %q", line)
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if parseLevel("nonsense") != slog.LevelInfo {
		t.Fatal("unknown levels should default to info")
	}
	if parseLevel("debug") != slog.LevelDebug {
		t.Fatal("debug should parse")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
