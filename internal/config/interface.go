package config

import (
	"fmt"

	"codeberg.org/dltlab/dltcal/internal/errors"
)

// Option defines a configuration option that can be passed to Load
type Option func(*options)

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "DLTCAL"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) { o.envPrefix = prefix }
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

func (l LogLevel) String() string {
	return string(l)
}

// ValidationError represents a configuration validation error
type ValidationError interface {
	error
	// Field returns the name of the invalid field
	Field() string
	// Value returns the invalid value
	Value() any
	// Reason returns why the value is invalid
	Reason() string
}

type validationError struct {
	code   errors.ErrorCode
	field  string
	value  any
	reason string
}

func newValidationError(code errors.ErrorCode, field string, value any, reason string) *validationError {
	return &validationError{code: code, field: field, value: value, reason: reason}
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", e.code, e.field, e.value, e.reason)
}

func (e *validationError) Field() string  { return e.field }
func (e *validationError) Value() any     { return e.value }
func (e *validationError) Reason() string { return e.reason }

// Unwrap exposes the code so errors.HasCode works on validation errors.
func (e *validationError) Unwrap() error {
	return errors.New().WithMessage(e.code, e.reason)
}
