// Package logging includes tests for the zap logger helpers.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true})
	if err != nil {
		t.Fatalf("New(dev) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLoggerWritesFile ensures entries reach the log file.
func TestNewProductionLoggerWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "scraper.log")
	logger, err := New(Options{Path: path})
	if err != nil {
		t.Fatalf("New(prod) error = %v", err)
	}
	logger.Info("production logger ready")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"production logger ready"`) {
		t.Fatalf("log file missing entry: %s", data)
	}
	if !strings.Contains(string(data), `"ts":`) {
		t.Fatalf("log file missing ts key: %s", data)
	}
}
