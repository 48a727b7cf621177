package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn must be set")
	}
	if strings.TrimSpace(c.API.Bind) == "" {
		return fmt.Errorf("api.bind must be set")
	}
	if c.Managers.HeartbeatFrequency <= 0 {
		return fmt.Errorf("managers.heartbeat_frequency must be positive, got %d", c.Managers.HeartbeatFrequency)
	}
	if c.Managers.HeartbeatMaxMissed <= 0 {
		return fmt.Errorf("managers.heartbeat_max_missed must be positive, got %d", c.Managers.HeartbeatMaxMissed)
	}
	if c.Workflow.ServiceSweepInterval <= 0 {
		return fmt.Errorf("workflow.service_sweep_interval must be positive, got %d", c.Workflow.ServiceSweepInterval)
	}
	if c.Workflow.ManagerSweepInterval <= 0 {
		return fmt.Errorf("workflow.manager_sweep_interval must be positive, got %d", c.Workflow.ManagerSweepInterval)
	}
	if c.Workflow.ServiceBatchLimit <= 0 {
		return fmt.Errorf("workflow.service_batch_limit must be positive, got %d", c.Workflow.ServiceBatchLimit)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
