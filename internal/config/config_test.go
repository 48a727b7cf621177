package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crucible/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestSampleParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(config.Sample()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	cfg, used, created, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if created {
		t.Fatal("existing file should not be reported as created")
	}
	if used != path {
		t.Fatalf("expected path %s, got %s", path, used)
	}
	if cfg.Managers.HeartbeatFrequency != 60 || cfg.Managers.HeartbeatMaxMissed != 5 {
		t.Fatalf("unexpected manager settings: %+v", cfg.Managers)
	}
}

func TestLoadMergesPartialFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := "[managers]\nheartbeat_frequency = 5\n"
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatalf("write partial config: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Managers.HeartbeatFrequency != 5 {
		t.Fatalf("expected override, got %d", cfg.Managers.HeartbeatFrequency)
	}
	if cfg.Managers.HeartbeatMaxMissed != 5 {
		t.Fatalf("expected default max missed, got %d", cfg.Managers.HeartbeatMaxMissed)
	}
}

func TestLoadRejectsExplicitMissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")
	if _, _, _, err := config.Load(missing); err == nil {
		t.Fatal("expected error for explicit missing path")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"empty dsn", func(c *config.Config) { c.Database.DSN = " " }, "database.dsn"},
		{"empty bind", func(c *config.Config) { c.API.Bind = "" }, "api.bind"},
		{"zero heartbeat", func(c *config.Config) { c.Managers.HeartbeatFrequency = 0 }, "heartbeat_frequency"},
		{"zero max missed", func(c *config.Config) { c.Managers.HeartbeatMaxMissed = 0 }, "heartbeat_max_missed"},
		{"zero sweep", func(c *config.Config) { c.Workflow.ServiceSweepInterval = 0 }, "service_sweep_interval"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}
