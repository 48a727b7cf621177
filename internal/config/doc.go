// Package config loads and validates the TOML configuration for the crucible
// server.
//
// A sample config is embedded and written on first run at the default
// location. Defaults are applied first, then the file is merged on top, then
// the result is validated, so a partial config file is always usable.
package config
