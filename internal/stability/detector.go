// Package stability decides when a controlled temperature has settled on its
// setpoint, from a fixed window of recent samples on two channels.
package stability

import (
	"math"

	"codeberg.org/dltlab/dltcal/internal/device"
)

const (
	DefaultBufferLength = 60
	DefaultTolAbs       = 0.02 // K
	DefaultStdTol       = 0.05 // K
)

// Config holds the detector thresholds.
type Config struct {
	BufferLength int
	TolAbs       float64
	StdTol       float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		BufferLength: DefaultBufferLength,
		TolAbs:       DefaultTolAbs,
		StdTol:       DefaultStdTol,
	}
}

// Detector keeps a SampleBuffer per channel. Observe is called from the
// polling goroutine, IsStable from the supervisory one.
type Detector struct {
	cfg       Config
	primary   *SampleBuffer
	secondary *SampleBuffer
}

// Stats is a point-in-time summary of both buffers.
type Stats struct {
	Samples       int
	Capacity      int
	PrimaryMean   float64
	PrimaryStd    float64
	SecondaryMean float64
	SecondaryStd  float64
}

// NewDetector builds a detector; zero fields in cfg take the defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.BufferLength <= 0 {
		cfg.BufferLength = def.BufferLength
	}
	if cfg.TolAbs <= 0 {
		cfg.TolAbs = def.TolAbs
	}
	if cfg.StdTol <= 0 {
		cfg.StdTol = def.StdTol
	}

	return &Detector{
		cfg:       cfg,
		primary:   NewSampleBuffer(cfg.BufferLength),
		secondary: NewSampleBuffer(cfg.BufferLength),
	}
}

// Config returns the thresholds in use.
func (d *Detector) Config() Config {
	return d.cfg
}

// Observe records the primary and secondary temperatures of r.
func (d *Detector) Observe(r device.Reading) {
	d.primary.Push(r.TemperatureA)
	d.secondary.Push(r.TemperatureB)
}

// IsStable reports whether the primary buffer is full, its mean is within
// tolAbs of target, and both channels have a standard deviation below stdTol.
func (d *Detector) IsStable(target, tolAbs, stdTol float64) bool {
	a := d.primary.Snapshot()
	if len(a) < d.primary.Cap() {
		return false
	}
	b := d.secondary.Snapshot()

	// Comparisons are written so that NaN fails them.
	if !(math.Abs(mean(a)-target) < tolAbs) {
		return false
	}
	if !(stddev(a) < stdTol) {
		return false
	}
	return stddev(b) < stdTol
}

// Stable is IsStable with the configured tolerances.
func (d *Detector) Stable(target float64) bool {
	return d.IsStable(target, d.cfg.TolAbs, d.cfg.StdTol)
}

// Reset clears both buffers.
func (d *Detector) Reset() {
	d.primary.Reset()
	d.secondary.Reset()
}

// Stats summarises the current windows.
func (d *Detector) Stats() Stats {
	a := d.primary.Snapshot()
	b := d.secondary.Snapshot()

	return Stats{
		Samples:       len(a),
		Capacity:      d.primary.Cap(),
		PrimaryMean:   mean(a),
		PrimaryStd:    stddev(a),
		SecondaryMean: mean(b),
		SecondaryStd:  stddev(b),
	}
}
