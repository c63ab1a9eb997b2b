package config

import (
	"fmt"
	"math"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
)

const (
	MinTemperature = 10.0  // K
	MaxTemperature = 350.0 // K
	MinStep        = 0.1   // K
	MaxStep        = 100.0 // K
)

// Validate checks every field and returns all problems joined. Each problem
// is a ValidationError.
func (c *Config) Validate() error {
	var errs []error
	add := func(code errors.ErrorCode, field string, value any, reason string) {
		errs = append(errs, newValidationError(code, field, value, reason))
	}

	for field, t := range map[string]float64{
		"start_temperature": c.StartTemperature,
		"stop_temperature":  c.StopTemperature,
	} {
		if math.IsNaN(t) || t < MinTemperature || t > MaxTemperature {
			add(errors.ErrInvalidConfig, field, t,
				fmt.Sprintf("must be between %g and %g K", MinTemperature, MaxTemperature))
		}
	}
	if math.IsNaN(c.StepTemperature) || c.StepTemperature < MinStep || c.StepTemperature > MaxStep {
		add(errors.ErrInvalidConfig, "step_temperature", c.StepTemperature,
			fmt.Sprintf("must be between %g and %g K", MinStep, MaxStep))
	}

	if c.PollInterval <= 0 {
		add(errors.ErrInvalidInterval, "poll_interval", c.PollInterval, "must be positive")
	}
	if c.SupervisoryTickInterval <= 0 {
		add(errors.ErrInvalidInterval, "supervisory_tick_interval", c.SupervisoryTickInterval, "must be positive")
	}
	if c.ReadTimeout < 0 {
		add(errors.ErrInvalidInterval, "read_timeout", c.ReadTimeout, "must not be negative")
	}
	if c.MaxConsecutiveFailures < 0 {
		add(errors.ErrInvalidConfig, "max_consecutive_failures", c.MaxConsecutiveFailures, "must not be negative")
	}

	if c.StabilityToleranceAbs <= 0 {
		add(errors.ErrInvalidConfig, "stability_tolerance_abs", c.StabilityToleranceAbs, "must be positive")
	}
	if c.StabilityStdTol <= 0 {
		add(errors.ErrInvalidConfig, "stability_std_tol", c.StabilityStdTol, "must be positive")
	}
	if c.StabilityBufferLength < 2 {
		add(errors.ErrInvalidConfig, "stability_buffer_length", c.StabilityBufferLength, "must be at least 2")
	}

	if !LogLevel(c.LogLevel).IsValid() {
		add(errors.ErrInvalidLogLevel, "log_level", c.LogLevel, "must be one of debug, info, warning, error")
	}
	if c.BaudRate <= 0 {
		add(errors.ErrInvalidConfig, "baud_rate", c.BaudRate, "must be positive")
	}
	if c.ControlLoop != 1 && c.ControlLoop != 2 {
		add(errors.ErrInvalidConfig, "control_loop", c.ControlLoop, "must be 1 or 2")
	}
	if r, err := device.ParseHeaterRange(c.HeaterRange); err != nil || r == device.HeaterOff {
		add(errors.ErrInvalidConfig, "heater_range", c.HeaterRange, "must be low, medium or high")
	}

	if c.Telemetry && c.TelemetryDB == "" {
		add(errors.ErrInvalidConfig, "telemetry_db", c.TelemetryDB, "required when telemetry is enabled")
	}
	if c.TelemetryBatchSize < 1 {
		add(errors.ErrInvalidConfig, "telemetry_batch_size", c.TelemetryBatchSize, "must be at least 1")
	}
	if c.TelemetryBatchTimeout < 0 {
		add(errors.ErrInvalidInterval, "telemetry_batch_timeout", c.TelemetryBatchTimeout, "must not be negative")
	}

	return errors.Join(errs...)
}
