// Package device defines the capability interfaces the calibration core
// consumes from the bench hardware, and the value types they exchange.
//
// Protocol details live in the adapter packages (lakeshore, sim); nothing in
// the core imports them.
package device

import (
	"context"
	"time"
)

// TemperatureController is a two-input, two-loop cryogenic temperature
// controller such as the Lake Shore Model 335.
type TemperatureController interface {
	// ReadAll samples both inputs and both heater outputs in one go.
	ReadAll(ctx context.Context) (Reading, error)

	// SetSetpoint sets the control loop setpoint in Kelvin
	SetSetpoint(ctx context.Context, loop int, kelvin float64) error

	// SetHeaterRange sets the output range of the heater driving loop
	SetHeaterRange(ctx context.Context, loop int, r HeaterRange) error

	// AllHeatersOff sets every heater output range to off
	AllHeatersOff(ctx context.Context) error

	// Close releases the underlying port
	Close() error
}

// Spectrometer captures a full spectrum on demand.
type Spectrometer interface {
	Capture(ctx context.Context) (Spectrum, error)
	Close() error
}

// Reading is a single poll of the temperature controller.
type Reading struct {
	Timestamp     time.Time
	TemperatureA  float64 // primary input, K
	TemperatureB  float64 // secondary input, K
	HeaterOutput1 float64 // %
	HeaterOutput2 float64 // %
}

// SpectralPoint is one sample on the spectral axis.
type SpectralPoint struct {
	Wavelength float64 // nm
	Intensity  float64
}

// Spectrum is captured atomically at CapturedAt.
type Spectrum struct {
	CapturedAt time.Time
	Points     []SpectralPoint
}
