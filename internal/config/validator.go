package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "ports.min")
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

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Backend) {
		errors = append(errors, ValidationError{
			Field:   "backend",
			Value:   c.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	errors = append(errors, c.validatePorts()...)
	errors = append(errors, c.validateIDs()...)
	errors = append(errors, c.validateCredentials()...)
	errors = append(errors, c.validateContainer()...)
	errors = append(errors, c.validateTerminal()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateSupervise()...)

	return errors
}

func (c *Config) validatePorts() []ValidationError {
	var errors []ValidationError

	// Privileged ports are never handed out
	const minPort = 1024
	const maxPort = 65535

	if c.Ports.Min < minPort || c.Ports.Min > maxPort {
		errors = append(errors, ValidationError{
			Field:   "ports.min",
			Value:   c.Ports.Min,
			Message: fmt.Sprintf("must be between %d and %d", minPort, maxPort),
		})
	}
	if c.Ports.Max < minPort || c.Ports.Max > maxPort {
		errors = append(errors, ValidationError{
			Field:   "ports.max",
			Value:   c.Ports.Max,
			Message: fmt.Sprintf("must be between %d and %d", minPort, maxPort),
		})
	}
	if c.Ports.Min > c.Ports.Max {
		errors = append(errors, ValidationError{
			Field:   "ports.max",
			Value:   c.Ports.Max,
			Message: fmt.Sprintf("must not be below ports.min (%d)", c.Ports.Min),
		})
	}
	if c.Ports.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "ports.max_attempts",
			Value:   c.Ports.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateIDs() []ValidationError {
	if c.IDs.MaxAttempts < 1 {
		return []ValidationError{{
			Field:   "ids.max_attempts",
			Value:   c.IDs.MaxAttempts,
			Message: "must be at least 1",
		}}
	}
	return nil
}

func (c *Config) validateCredentials() []ValidationError {
	var errors []ValidationError

	const minLength = 6
	const maxLength = 64

	if c.Credentials.UsernameLength < minLength || c.Credentials.UsernameLength > 32 {
		errors = append(errors, ValidationError{
			Field:   "credentials.username_length",
			Value:   c.Credentials.UsernameLength,
			Message: fmt.Sprintf("must be between %d and 32", minLength),
		})
	}
	if c.Credentials.PasswordLength < minLength || c.Credentials.PasswordLength > maxLength {
		errors = append(errors, ValidationError{
			Field:   "credentials.password_length",
			Value:   c.Credentials.PasswordLength,
			Message: fmt.Sprintf("must be between %d and %d", minLength, maxLength),
		})
	}

	return errors
}

func (c *Config) validateContainer() []ValidationError {
	var errors []ValidationError

	if c.Container.ServicePort < 1 || c.Container.ServicePort > 65535 {
		errors = append(errors, ValidationError{
			Field:   "container.service_port",
			Value:   c.Container.ServicePort,
			Message: "must be between 1 and 65535",
		})
	}
	if strings.TrimSpace(c.Container.DefaultImage) == "" {
		errors = append(errors, ValidationError{
			Field:   "container.default_image",
			Value:   c.Container.DefaultImage,
			Message: "must not be empty",
		})
	}
	if c.Container.PullTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "container.pull_timeout_seconds",
			Value:   c.Container.PullTimeoutSeconds,
			Message: "must be non-negative",
		})
	}
	if c.Container.StopTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "container.stop_timeout_seconds",
			Value:   c.Container.StopTimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateTerminal() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Terminal.Binary) == "" {
		errors = append(errors, ValidationError{
			Field:   "terminal.binary",
			Value:   c.Terminal.Binary,
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(c.Terminal.SocketDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "terminal.socket_dir",
			Value:   c.Terminal.SocketDir,
			Message: "must not be empty",
		})
	}
	if c.Terminal.PollIntervalMs < 10 {
		errors = append(errors, ValidationError{
			Field:   "terminal.poll_interval_ms",
			Value:   c.Terminal.PollIntervalMs,
			Message: "must be at least 10ms",
		})
	}
	if c.Terminal.ReadyTimeoutMs <= c.Terminal.PollIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "terminal.ready_timeout_ms",
			Value:   c.Terminal.ReadyTimeoutMs,
			Message: "must be greater than terminal.poll_interval_ms",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
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
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateSupervise() []ValidationError {
	var errors []ValidationError

	if c.Supervise.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "supervise.interval_seconds",
			Value:   c.Supervise.IntervalSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Supervise.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "supervise.concurrency",
			Value:   c.Supervise.Concurrency,
			Message: "must be at least 1",
		})
	}

	return errors
}
