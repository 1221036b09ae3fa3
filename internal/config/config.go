// Package config defines the conductor configuration, its defaults, and
// validation. Configuration is loaded through viper from a YAML file and
// CONDUCTOR_-prefixed environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete conductor configuration
type Config struct {
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Deadlock    DeadlockConfig    `mapstructure:"deadlock"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	TUI         TUIConfig         `mapstructure:"tui"`
}

// SchedulerConfig controls admission control and the wait queue
type SchedulerConfig struct {
	// MaxConcurrent is the number of sessions allowed to run at once (min: 1)
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// QueueTimeoutSeconds bounds how long a request may wait for a slot (0 = no timeout)
	QueueTimeoutSeconds int `mapstructure:"queue_timeout_seconds"`
	// DefaultPriority is assigned to requests that do not specify one; lower runs first
	DefaultPriority int `mapstructure:"default_priority"`
}

// DeadlockConfig controls the dependency-cycle sweep
type DeadlockConfig struct {
	// IntervalSeconds is how often the sweep runs (default: 30)
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// Policy picks the dependency edge dropped on detection
	// Options: "oldest", "min_priority"
	Policy string `mapstructure:"policy"`
}

// RecoveryConfig controls the stuck-session sweep
type RecoveryConfig struct {
	// SweepIntervalMinutes is how often the sweep runs (default: 10)
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
	// InitializingTimeoutMinutes forces initializing sessions older than this to error (default: 10)
	InitializingTimeoutMinutes int `mapstructure:"initializing_timeout_minutes"`
	// StartingTimeoutMinutes forces starting sessions older than this to error (default: 15)
	StartingTimeoutMinutes int `mapstructure:"starting_timeout_minutes"`
	// RunningWarnMinutes logs a warning for sessions running longer than this (default: 60)
	RunningWarnMinutes int `mapstructure:"running_warn_minutes"`
}

// PersistenceConfig controls the session store snapshot file
type PersistenceConfig struct {
	// Path is the store file location. Empty uses <data dir>/sessions.json
	Path string `mapstructure:"path"`
	// FlushIntervalMinutes is the periodic snapshot interval (default: 5)
	FlushIntervalMinutes int `mapstructure:"flush_interval_minutes"`
}

// LoggingConfig controls structured log output
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path. Empty logs to stderr
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// TUIConfig controls the monitor terminal UI
type TUIConfig struct {
	// RefreshIntervalMs is how often the monitor view refreshes (default: 1000)
	RefreshIntervalMs int `mapstructure:"refresh_interval_ms"`
	// MaxEventLines limits the event feed length (default: 50)
	MaxEventLines int `mapstructure:"max_event_lines"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrent:       3,
			QueueTimeoutSeconds: 0, // wait indefinitely
			DefaultPriority:     10,
		},
		Deadlock: DeadlockConfig{
			IntervalSeconds: 30,
			Policy:          "oldest",
		},
		Recovery: RecoveryConfig{
			SweepIntervalMinutes:       10,
			InitializingTimeoutMinutes: 10,
			StartingTimeoutMinutes:     15,
			RunningWarnMinutes:         60,
		},
		Persistence: PersistenceConfig{
			Path:                 "",
			FlushIntervalMinutes: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		TUI: TUIConfig{
			RefreshIntervalMs: 1000,
			MaxEventLines:     50,
		},
	}
}

// QueueTimeout returns the queue timeout as a time.Duration (0 means disabled)
func (c *SchedulerConfig) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutSeconds) * time.Second
}

// Interval returns the sweep interval as a time.Duration
func (c *DeadlockConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SweepInterval returns the recovery sweep interval as a time.Duration
func (c *RecoveryConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// InitializingTimeout returns the initializing threshold as a time.Duration
func (c *RecoveryConfig) InitializingTimeout() time.Duration {
	return time.Duration(c.InitializingTimeoutMinutes) * time.Minute
}

// StartingTimeout returns the starting threshold as a time.Duration
func (c *RecoveryConfig) StartingTimeout() time.Duration {
	return time.Duration(c.StartingTimeoutMinutes) * time.Minute
}

// RunningWarn returns the running warning threshold as a time.Duration
func (c *RecoveryConfig) RunningWarn() time.Duration {
	return time.Duration(c.RunningWarnMinutes) * time.Minute
}

// FlushInterval returns the snapshot interval as a time.Duration
func (c *PersistenceConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMinutes) * time.Minute
}

// RefreshInterval returns the monitor refresh interval as a time.Duration
func (c *TUIConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

// StorePath resolves the session store file, falling back to the data dir
func (c *PersistenceConfig) StorePath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(DataDir(), "sessions.json")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("scheduler.max_concurrent", defaults.Scheduler.MaxConcurrent)
	viper.SetDefault("scheduler.queue_timeout_seconds", defaults.Scheduler.QueueTimeoutSeconds)
	viper.SetDefault("scheduler.default_priority", defaults.Scheduler.DefaultPriority)

	viper.SetDefault("deadlock.interval_seconds", defaults.Deadlock.IntervalSeconds)
	viper.SetDefault("deadlock.policy", defaults.Deadlock.Policy)

	viper.SetDefault("recovery.sweep_interval_minutes", defaults.Recovery.SweepIntervalMinutes)
	viper.SetDefault("recovery.initializing_timeout_minutes", defaults.Recovery.InitializingTimeoutMinutes)
	viper.SetDefault("recovery.starting_timeout_minutes", defaults.Recovery.StartingTimeoutMinutes)
	viper.SetDefault("recovery.running_warn_minutes", defaults.Recovery.RunningWarnMinutes)

	viper.SetDefault("persistence.path", defaults.Persistence.Path)
	viper.SetDefault("persistence.flush_interval_minutes", defaults.Persistence.FlushIntervalMinutes)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("tui.refresh_interval_ms", defaults.TUI.RefreshIntervalMs)
	viper.SetDefault("tui.max_event_lines", defaults.TUI.MaxEventLines)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if the
// loaded configuration is unusable
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".config", "conductor")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory for durable state (session store, logs)
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".local", "share", "conductor")
}
