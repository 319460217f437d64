package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/segment-api/internal/config"
)

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("usecase.predict", "req-1", base)
	if err.Error() != "usecase.predict (request_id=req-1): boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestRequestIDOfFindsNestedOperation(t *testing.T) {
	inner := NewOperationError("model.predict", "req-42", errors.New("boom"))
	outer := fmt.Errorf("handler: %w", NewOperationError("usecase.predict", "", inner))
	if got := RequestIDOf(outer); got != "req-42" {
		t.Fatalf("expected req-42, got %q", got)
	}
	if got := RequestIDOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "usecase.predict", "req-7").Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "usecase.predict" || fields["request_id"] != "req-7" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, err := NewLogger(config.LogConfig{Mode: "release", File: path, MaxAge: time.Hour, RotationTime: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("written to file")
	_ = logger.Sync()

	matches, err := filepath.Glob(path + ".*")
	if err != nil || len(matches) == 0 {
		t.Fatalf("expected rotated log file, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log content")
	}
}
