package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "ports.min",
		Value:   80,
		Message: "must be between 1024 and 65535",
	}

	expected := "ports.min: must be between 1024 and 65535 (got: 80)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{
			name:      "unknown backend",
			modify:    func(c *Config) { c.Backend = "vm" },
			wantField: "backend",
		},
		{
			name:      "privileged min port",
			modify:    func(c *Config) { c.Ports.Min = 22 },
			wantField: "ports.min",
		},
		{
			name:      "max port out of range",
			modify:    func(c *Config) { c.Ports.Max = 70000 },
			wantField: "ports.max",
		},
		{
			name:      "inverted port range",
			modify:    func(c *Config) { c.Ports.Min, c.Ports.Max = 30000, 29999 },
			wantField: "ports.max",
		},
		{
			name:      "zero port attempts",
			modify:    func(c *Config) { c.Ports.MaxAttempts = 0 },
			wantField: "ports.max_attempts",
		},
		{
			name:      "zero id attempts",
			modify:    func(c *Config) { c.IDs.MaxAttempts = 0 },
			wantField: "ids.max_attempts",
		},
		{
			name:      "short username",
			modify:    func(c *Config) { c.Credentials.UsernameLength = 3 },
			wantField: "credentials.username_length",
		},
		{
			name:      "long username",
			modify:    func(c *Config) { c.Credentials.UsernameLength = 40 },
			wantField: "credentials.username_length",
		},
		{
			name:      "short password",
			modify:    func(c *Config) { c.Credentials.PasswordLength = 5 },
			wantField: "credentials.password_length",
		},
		{
			name:      "service port zero",
			modify:    func(c *Config) { c.Container.ServicePort = 0 },
			wantField: "container.service_port",
		},
		{
			name:      "blank default image",
			modify:    func(c *Config) { c.Container.DefaultImage = "  " },
			wantField: "container.default_image",
		},
		{
			name:      "negative pull timeout",
			modify:    func(c *Config) { c.Container.PullTimeoutSeconds = -1 },
			wantField: "container.pull_timeout_seconds",
		},
		{
			name:      "negative stop timeout",
			modify:    func(c *Config) { c.Container.StopTimeoutSeconds = -1 },
			wantField: "container.stop_timeout_seconds",
		},
		{
			name:      "empty terminal binary",
			modify:    func(c *Config) { c.Terminal.Binary = "" },
			wantField: "terminal.binary",
		},
		{
			name:      "empty socket dir",
			modify:    func(c *Config) { c.Terminal.SocketDir = "" },
			wantField: "terminal.socket_dir",
		},
		{
			name:      "tiny poll interval",
			modify:    func(c *Config) { c.Terminal.PollIntervalMs = 1 },
			wantField: "terminal.poll_interval_ms",
		},
		{
			name:      "timeout not above poll interval",
			modify:    func(c *Config) { c.Terminal.ReadyTimeoutMs = 250 },
			wantField: "terminal.ready_timeout_ms",
		},
		{
			name:      "unknown log level",
			modify:    func(c *Config) { c.Logging.Level = "verbose" },
			wantField: "logging.level",
		},
		{
			name:      "negative log size",
			modify:    func(c *Config) { c.Logging.MaxSizeMB = -1 },
			wantField: "logging.max_size_mb",
		},
		{
			name:      "negative log backups",
			modify:    func(c *Config) { c.Logging.MaxBackups = -1 },
			wantField: "logging.max_backups",
		},
		{
			name:      "zero supervise interval",
			modify:    func(c *Config) { c.Supervise.IntervalSeconds = 0 },
			wantField: "supervise.interval_seconds",
		},
		{
			name:      "zero supervise concurrency",
			modify:    func(c *Config) { c.Supervise.Concurrency = 0 },
			wantField: "supervise.concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			if !hasFieldError(errs, tt.wantField) {
				t.Errorf("expected error for %s, got %v", tt.wantField, errs)
			}
		})
	}
}

func TestConfig_Validate_Boundaries(t *testing.T) {
	t.Run("single port range", func(t *testing.T) {
		cfg := Default()
		cfg.Ports.Min, cfg.Ports.Max = 40000, 40000
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("single-port range should be valid, got %v", errs)
		}
	})

	t.Run("range edges", func(t *testing.T) {
		cfg := Default()
		cfg.Ports.Min, cfg.Ports.Max = 1024, 65535
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("full unprivileged range should be valid, got %v", errs)
		}
	})

	t.Run("log level is case insensitive", func(t *testing.T) {
		for _, level := range []string{"debug", "INFO", "Warn", "error", ""} {
			cfg := Default()
			cfg.Logging.Level = level
			if hasFieldError(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Backend = ""
	cfg.Ports.MaxAttempts = 0
	cfg.Supervise.Concurrency = 0

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(errs), errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	expected := []string{"debug", "info", "warn", "error"}

	if len(levels) != len(expected) {
		t.Fatalf("ValidLogLevels() returned %d levels, want %d", len(levels), len(expected))
	}
	for i, level := range levels {
		if level != expected[i] {
			t.Errorf("ValidLogLevels()[%d] = %q, want %q", i, level, expected[i])
		}
	}
}
