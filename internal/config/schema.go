package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Controller ControllerConfig `yaml:"controller"`
	Database   DatabaseConfig   `yaml:"database"`
	Topology   TopologyConfig   `yaml:"topology"`
	Master     MasterConfig     `yaml:"master"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControllerConfig configures the control-plane HTTP listener
type ControllerConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	WriteTimeout      Duration `yaml:"write_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	// AuthTokenHash is a bcrypt hash of the operator bearer token.
	// Empty disables authentication.
	AuthTokenHash string   `yaml:"auth_token_hash,omitempty"`
	CORSOrigins   []string `yaml:"cors_origins,omitempty"`
}

// DatabaseConfig holds state store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TopologyConfig points at the topology definition
type TopologyConfig struct {
	DefinitionFile string `yaml:"definition_file"`
	// Watch reloads names and components when the file changes
	Watch bool `yaml:"watch"`
}

// MasterConfig tunes the topology master
type MasterConfig struct {
	StateWriteTimeout Duration `yaml:"state_write_timeout"`
}

// LoggingConfig selects log verbosity and format
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
