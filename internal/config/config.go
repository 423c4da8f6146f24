// Package config loads and validates application configuration from
// environment variables and an optional config file.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"   validate:"required"`
	Task      TaskConfig      `mapstructure:"task"      validate:"required"`
	Collector CollectorConfig `mapstructure:"collector"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// LoggingConfig contains logging-related settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// TaskConfig contains task-proxy timeout settings.
type TaskConfig struct {
	// CancelTimeout bounds Cancel's drain-and-join.
	CancelTimeout time.Duration `mapstructure:"cancel_timeout" validate:"required,gt=0"`

	// PollInterval is the demo driver's fetch cadence.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`

	// MaxDuration caps how long the demo driver lets a task run before
	// cancelling it.
	MaxDuration time.Duration `mapstructure:"max_duration" validate:"required,gt=0"`
}

// CollectorConfig contains settings for the worker log collector.
// An empty address disables log forwarding.
type CollectorConfig struct {
	Addr string `mapstructure:"addr"`
}

// MonitorConfig contains settings for the HTTP task monitor.
// A zero port disables the monitor.
type MonitorConfig struct {
	Port int `mapstructure:"port" validate:"omitempty,gt=0,lt=65536"`
}

// DatabaseConfig contains task-ledger database settings.
// An empty URL disables the ledger.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}
