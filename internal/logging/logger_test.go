package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crucible/internal/config"
	"crucible/internal/logging"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("sweep finished", logging.Int(logging.FieldCount, 3))

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "crucible.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "sweep finished") {
		t.Fatalf("expected log line in file, got %q", data)
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("should vanish", logging.Error(nil))
}
