package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scheduler.max_concurrent")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidDeadlockPolicies returns the list of valid deadlock resolution policies
func ValidDeadlockPolicies() []string {
	return []string{"oldest", "min_priority"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateDeadlock()...)
	errors = append(errors, c.validateRecovery()...)
	errors = append(errors, c.validatePersistence()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateTUI()...)

	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	if c.Scheduler.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_concurrent",
			Value:   c.Scheduler.MaxConcurrent,
			Message: "must be at least 1",
		})
	}
	if c.Scheduler.QueueTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.queue_timeout_seconds",
			Value:   c.Scheduler.QueueTimeoutSeconds,
			Message: "must be 0 (disabled) or positive",
		})
	}

	return errors
}

func (c *Config) validateDeadlock() []ValidationError {
	var errors []ValidationError

	if c.Deadlock.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "deadlock.interval_seconds",
			Value:   c.Deadlock.IntervalSeconds,
			Message: "must be at least 1",
		})
	}
	if !slices.Contains(ValidDeadlockPolicies(), c.Deadlock.Policy) {
		errors = append(errors, ValidationError{
			Field:   "deadlock.policy",
			Value:   c.Deadlock.Policy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDeadlockPolicies(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateRecovery() []ValidationError {
	var errors []ValidationError

	fields := []struct {
		name  string
		value int
	}{
		{"recovery.sweep_interval_minutes", c.Recovery.SweepIntervalMinutes},
		{"recovery.initializing_timeout_minutes", c.Recovery.InitializingTimeoutMinutes},
		{"recovery.starting_timeout_minutes", c.Recovery.StartingTimeoutMinutes},
		{"recovery.running_warn_minutes", c.Recovery.RunningWarnMinutes},
	}
	for _, f := range fields {
		if f.value < 1 {
			errors = append(errors, ValidationError{
				Field:   f.name,
				Value:   f.value,
				Message: "must be at least 1",
			})
		}
	}

	return errors
}

func (c *Config) validatePersistence() []ValidationError {
	var errors []ValidationError

	if c.Persistence.FlushIntervalMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "persistence.flush_interval_minutes",
			Value:   c.Persistence.FlushIntervalMinutes,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be 0 (no rotation) or positive",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be 0 or positive",
		})
	}

	return errors
}

func (c *Config) validateTUI() []ValidationError {
	var errors []ValidationError

	if c.TUI.RefreshIntervalMs < 100 {
		errors = append(errors, ValidationError{
			Field:   "tui.refresh_interval_ms",
			Value:   c.TUI.RefreshIntervalMs,
			Message: "must be at least 100",
		})
	}
	if c.TUI.MaxEventLines < 1 {
		errors = append(errors, ValidationError{
			Field:   "tui.max_event_lines",
			Value:   c.TUI.MaxEventLines,
			Message: "must be at least 1",
		})
	}

	return errors
}
