package telemetry

import (
	"context"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
)

// Collector defines the core domain interface
type Collector interface {
	RecordReading(ctx context.Context, r device.Reading) error
	RecordCapture(ctx context.Context, c *CaptureRecord) error
	SessionID() string
	Close() error
}

// Repository defines the interface for telemetry storage
type Repository interface {
	StoreReading(r device.Reading) error
	StoreCapture(ctx context.Context, c *CaptureRecord) error
	Close() error
}

// CaptureRecord is one completed setpoint of a calibration run.
type CaptureRecord struct {
	RunID        string
	Timestamp    time.Time
	Setpoint     float64
	SpectrumPath string
	Points       int
	TemperatureA float64
	TemperatureB float64
}
