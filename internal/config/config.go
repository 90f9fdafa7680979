// Package config provides configuration management for tmaster.
//
// Configuration comes from a YAML file, then environment overrides, then
// command-line flags (applied by the caller). Missing values fall back to
// defaults.
//
// Config file locations (priority order):
//  1. $TMASTER_CONFIG
//  2. ./tmaster.yaml
//  3. ~/.config/tmaster/config.yaml
//  4. /etc/tmaster/config.yaml
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tmaster/internal/logging"
)

// Environment variables that override file values
const (
	EnvControllerAddr = "TMASTER_CONTROLLER_ADDR"
	EnvDatabasePath   = "TMASTER_DB_PATH"
	EnvLogLevel       = "TMASTER_LOG_LEVEL"
	EnvTopologyFile   = "TMASTER_TOPOLOGY_FILE"
)

const (
	defaultControllerAddr    = ":8889"
	defaultDatabasePath      = "./tmaster.db"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultStateWriteTimeout = 10 * time.Second
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Controller.Addr == "" {
		c.Controller.Addr = defaultControllerAddr
	}
	if c.Controller.ReadHeaderTimeout == 0 {
		c.Controller.ReadHeaderTimeout = Duration(defaultReadHeaderTimeout)
	}
	if c.Controller.ShutdownTimeout == 0 {
		c.Controller.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath
	}
	if c.Master.StateWriteTimeout == 0 {
		c.Master.StateWriteTimeout = Duration(defaultStateWriteTimeout)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ApplyEnv overrides file values with any TMASTER_* variables set in the
// environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvControllerAddr); v != "" {
		c.Controller.Addr = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvTopologyFile); v != "" {
		c.Topology.DefinitionFile = v
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Controller.Addr); err != nil {
		errs = append(errs, fmt.Errorf("controller.addr %q: %w", c.Controller.Addr, err))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Topology.DefinitionFile == "" {
		errs = append(errs, errors.New("topology.definition_file is required"))
	}
	if c.Master.StateWriteTimeout.Duration() < 0 {
		errs = append(errs, errors.New("master.state_write_timeout must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// AuthEnabled reports whether control requests require a bearer token
func (c *Config) AuthEnabled() bool {
	return c.Controller.AuthTokenHash != ""
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	auth := "disabled"
	if c.AuthEnabled() {
		auth = "enabled"
	}
	return fmt.Sprintf("Controller: %s (auth %s), Database: %s, Topology: %s, Log level: %s",
		c.Controller.Addr, auth, c.Database.Path, c.Topology.DefinitionFile, c.Logging.Level)
}
