package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"crucible/internal/config"
)

// PostgresEnv names the environment variable holding the DSN of a disposable
// test database. Tests that need real storage skip when it is unset.
const PostgresEnv = "CRUCIBLE_POSTGRES_DSN"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// The database DSN comes from CRUCIBLE_POSTGRES_DSN when set.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.API.Bind = "127.0.0.1:0"
	cfg.API.Token = "test-token"
	if dsn := os.Getenv(PostgresEnv); dsn != "" {
		cfg.Database.DSN = dsn
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithDSN overrides the database DSN on the test config.
func WithDSN(dsn string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Database.DSN = dsn
	}
}

// WithToken overrides the API bearer token on the test config.
func WithToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.API.Token = token
	}
}
