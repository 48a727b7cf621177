package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Database contains connection settings for the PostgreSQL backing store.
type Database struct {
	// DSN is a pgx-compatible connection string.
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime int    `toml:"conn_max_lifetime_seconds"`
}

// API contains bind address and authentication for the HTTP interface.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Managers contains liveness settings for the compute manager pool.
type Managers struct {
	// HeartbeatFrequency is the interval, in seconds, managers are expected
	// to heartbeat at.
	HeartbeatFrequency int `toml:"heartbeat_frequency"`
	// HeartbeatMaxMissed is how many consecutive heartbeats a manager may
	// miss before the liveness sweep marks it inactive and recovers its
	// claimed tasks.
	HeartbeatMaxMissed int `toml:"heartbeat_max_missed"`
}

// Workflow contains timing for the background sweeps.
type Workflow struct {
	ServiceSweepInterval int `toml:"service_sweep_interval"`
	ManagerSweepInterval int `toml:"manager_sweep_interval"`
	// ServiceBatchLimit caps how many ready services one sweep pass iterates.
	ServiceBatchLimit int `toml:"service_batch_limit"`
}

// Logging contains log level and output format.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration for the crucible server.
type Config struct {
	LogDir   string   `toml:"log_dir"`
	Database Database `toml:"database"`
	API      API      `toml:"api"`
	Managers Managers `toml:"managers"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the standard config location under the user
// config directory.
func DefaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "crucible", "config.toml"), nil
}

// Load reads configuration from path, falling back to the default location
// when path is empty. A missing file at the default location is created from
// the embedded sample. Returns the config, the path used, and whether the
// file was newly created.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	usingDefault := resolved == ""
	if usingDefault {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		resolved = defaultPath
	}

	created := false
	data, err := os.ReadFile(resolved)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, resolved, false, fmt.Errorf("read config: %w", err)
		}
		if !usingDefault {
			return nil, resolved, false, fmt.Errorf("config file %s does not exist", resolved)
		}
		if err := writeSample(resolved); err != nil {
			return nil, resolved, false, err
		}
		created = true
		data = []byte(sampleConfig)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, created, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolved, created, err
	}
	return &cfg, resolved, created, nil
}

// EnsureDirectories creates the directories the server writes into.
func (c *Config) EnsureDirectories() error {
	if c.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration text.
func Sample() string {
	return sampleConfig
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
