package config

import (
	"os"
	"path/filepath"
)

// Default returns the baseline configuration applied before the config file
// is merged on top.
func Default() Config {
	logDir := ""
	if cacheDir, err := os.UserCacheDir(); err == nil {
		logDir = filepath.Join(cacheDir, "crucible")
	}
	return Config{
		LogDir: logDir,
		Database: Database{
			DSN:             "postgres://localhost/crucible",
			MaxOpenConns:    16,
			MaxIdleConns:    4,
			ConnMaxLifetime: 1800,
		},
		API: API{
			Bind: "127.0.0.1:7777",
		},
		Managers: Managers{
			HeartbeatFrequency: 60,
			HeartbeatMaxMissed: 5,
		},
		Workflow: Workflow{
			ServiceSweepInterval: 30,
			ManagerSweepInterval: 60,
			ServiceBatchLimit:    50,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}
