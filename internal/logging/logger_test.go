package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fragility/internal/config"
	"fragility/internal/logging"
)

func TestNewFromConfigMirrorsToJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "debug"

	logger, err := logging.NewFromConfig(&cfg, io.Discard)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	ctx := logging.WithRunID(context.Background(), "run-1")
	logger.InfoContext(ctx, "run started", logging.String("recording", "sub-01"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode log line %q: %v", content, err)
	}
	if record["msg"] != "run started" || record["level"] != "info" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record[logging.FieldRunID] != "run-1" || record["recording"] != "sub-01" {
		t.Fatalf("expected context and attrs in file record, got %+v", record)
	}
	if _, ok := record["source"]; !ok {
		t.Fatalf("expected source in file record, got %+v", record)
	}
}

func TestNewJSONWriterEncodesNaN(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("fragility", logging.Float64("max", math.NaN()))
	if !strings.Contains(buf.String(), `"max":"NaN"`) {
		t.Fatalf("expected NaN rendered as string, got %q", buf.String())
	}
}

func TestConsoleLoggerIncludesSourceOnlyForDebug(t *testing.T) {
	var info bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &info})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")
	if strings.Contains(info.String(), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", info.String())
	}

	var debug bytes.Buffer
	logger, err = logging.New(logging.Options{Format: "console", Level: "debug", Writer: &debug})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")
	if !strings.Contains(debug.String(), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", debug.String())
	}
}

func TestNewRejectsUnknownFormatAndLevel(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := logging.New(logging.Options{Level: "verbose"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(context.Background(), logger, "window skipped", "window_skipped",
		logging.String(logging.FieldImpact, "window recorded as NaN"))

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[logging.FieldEventType] != "window_skipped" {
		t.Fatalf("expected event type, got %+v", record)
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatalf("expected default hint, got %+v", record)
	}
	if record[logging.FieldImpact] != "window recorded as NaN" {
		t.Fatalf("expected caller impact preserved, got %+v", record)
	}
}

func TestContextFields(t *testing.T) {
	if fields := logging.ContextFields(context.Background()); len(fields) != 0 {
		t.Fatalf("expected no fields, got %v", fields)
	}
	ctx := logging.WithStage(logging.WithWindow(logging.WithRunID(context.Background(), "r"), 0), "estimating")
	fields := logging.ContextFields(ctx)
	if len(fields) != 3 {
		t.Fatalf("expected three fields, got %v", fields)
	}
	if fields[1].Key != logging.FieldWindow || fields[1].Value.Int64() != 0 {
		t.Fatalf("expected window 0 to be kept, got %v", fields[1])
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("expected nop logger disabled")
	}
	logging.NewComponentLogger(nil, "x").Info("dropped")
}
