package main

import (
	"strings"
	"sync"

	"crucible/internal/config"
)

type commandContext struct {
	serverFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// serverURL resolves the API base URL: the --server flag wins, otherwise the
// config bind address.
func (c *commandContext) serverURL() string {
	if c.serverFlag != nil {
		if flag := strings.TrimSpace(*c.serverFlag); flag != "" {
			return strings.TrimRight(flag, "/")
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return "http://127.0.0.1:7777"
	}
	return "http://" + cfg.API.Bind
}

func (c *commandContext) client() *serverClient {
	token := ""
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		token = cfg.API.Token
	}
	return newServerClient(c.serverURL(), token)
}
