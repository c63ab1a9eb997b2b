package process

import (
	"fmt"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/stability"
)

const (
	DefaultTickInterval   = 10 * time.Second
	DefaultControlLoop    = 1
	DefaultCommandTimeout = 5 * time.Second
)

// Config holds the run parameters of a Controller.
type Config struct {
	Sequence  SetpointSequence
	OutputDir string

	// TickInterval drives the supervisory loop. Zero disables the loop and
	// leaves ticking to the caller.
	TickInterval time.Duration

	ControlLoop    int
	HeaterRange    device.HeaterRange
	CommandTimeout time.Duration

	ToleranceAbs float64
	StdTolerance float64

	ResetOnSetpointChange bool
	HeatersOffOnStop      bool
}

// DefaultConfig returns the bench defaults for sequence.
func DefaultConfig(sequence SetpointSequence, outputDir string) Config {
	return Config{
		Sequence:              sequence,
		OutputDir:             outputDir,
		TickInterval:          DefaultTickInterval,
		ControlLoop:           DefaultControlLoop,
		HeaterRange:           device.HeaterHigh,
		CommandTimeout:        DefaultCommandTimeout,
		ToleranceAbs:          stability.DefaultTolAbs,
		StdTolerance:          stability.DefaultStdTol,
		ResetOnSetpointChange: true,
		HeatersOffOnStop:      true,
	}
}

// Validate checks the parts of the config that do not depend on hardware.
// An empty OutputDir is reported by Start, not here.
func (c Config) Validate() error {
	errFactory := errors.New()
	switch {
	case c.Sequence.Len() == 0:
		return errFactory.WithMessage(ErrInvalidConfig, "setpoint sequence is empty")
	case c.TickInterval < 0:
		return errFactory.WithMessage(ErrInvalidConfig, "tick interval must not be negative")
	case c.ControlLoop != 1 && c.ControlLoop != 2:
		return errFactory.WithMessage(ErrInvalidConfig, fmt.Sprintf("control loop must be 1 or 2, got %d", c.ControlLoop))
	case c.ToleranceAbs <= 0 || c.StdTolerance <= 0:
		return errFactory.WithMessage(ErrInvalidConfig, "stability tolerances must be positive")
	}
	return nil
}
