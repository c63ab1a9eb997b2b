package config

import (
	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/process"
	"codeberg.org/dltlab/dltcal/internal/stability"
	"codeberg.org/dltlab/dltcal/internal/telemetry"
)

// Sequence builds the setpoint plan.
func (c *Config) Sequence() (process.SetpointSequence, error) {
	return process.NewSetpointSequence(c.StartTemperature, c.StopTemperature, c.StepTemperature)
}

// ProcessConfig maps the run settings onto the controller's config.
func (c *Config) ProcessConfig() (process.Config, error) {
	seq, err := c.Sequence()
	if err != nil {
		return process.Config{}, err
	}
	hr, err := device.ParseHeaterRange(c.HeaterRange)
	if err != nil {
		return process.Config{}, err
	}

	pc := process.DefaultConfig(seq, c.OutputDir)
	pc.TickInterval = c.SupervisoryTickInterval
	pc.ControlLoop = c.ControlLoop
	pc.HeaterRange = hr
	pc.ToleranceAbs = c.StabilityToleranceAbs
	pc.StdTolerance = c.StabilityStdTol
	pc.ResetOnSetpointChange = c.StabilityResetOnSetpoint
	pc.HeatersOffOnStop = c.HeatersOffOnStop
	return pc, nil
}

func (c *Config) DetectorConfig() stability.Config {
	return stability.Config{
		BufferLength: c.StabilityBufferLength,
		TolAbs:       c.StabilityToleranceAbs,
		StdTol:       c.StabilityStdTol,
	}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Telemetry,
		DBPath:       c.TelemetryDB,
		BatchSize:    c.TelemetryBatchSize,
		BatchTimeout: c.TelemetryBatchTimeout,
	}
}
