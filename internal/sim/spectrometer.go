package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
)

// SpectrometerConfig shapes the simulated spectrum.
type SpectrometerConfig struct {
	MinWavelength float64 // nm
	MaxWavelength float64 // nm
	Step          float64 // nm

	// PeakAt77K is the emission peak at 77 K; it shifts by ShiftPerK.
	PeakAt77K float64
	ShiftPerK float64
	Width     float64 // nm, 1 sigma
	Amplitude float64
	Noise     float64
}

func DefaultSpectrometerConfig() SpectrometerConfig {
	return SpectrometerConfig{
		MinWavelength: 700,
		MaxWavelength: 900,
		Step:          0.5,
		PeakAt77K:     780,
		ShiftPerK:     0.27,
		Width:         6,
		Amplitude:     12000,
		Noise:         40,
	}
}

// Spectrometer renders a Gaussian emission line whose centre tracks the
// temperature reported by temp.
type Spectrometer struct {
	mu     sync.Mutex
	cfg    SpectrometerConfig
	temp   func() float64
	now    func() time.Time
	rng    *rand.Rand
	closed bool
}

func NewSpectrometer(cfg SpectrometerConfig, temp func() float64) *Spectrometer {
	return &Spectrometer{
		cfg:  cfg,
		temp: temp,
		now:  time.Now,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Spectrometer) Capture(ctx context.Context) (device.Spectrum, error) {
	if err := ctx.Err(); err != nil {
		return device.Spectrum{}, errors.Wrap(device.ErrCapture, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.Spectrum{}, errors.New().New(device.ErrNotConnected)
	}
	if s.cfg.Step <= 0 || s.cfg.MaxWavelength < s.cfg.MinWavelength {
		return device.Spectrum{}, errors.New().WithMessage(device.ErrCapture, "invalid wavelength grid")
	}

	centre := s.cfg.PeakAt77K + s.cfg.ShiftPerK*(s.temp()-77)
	n := int(math.Floor((s.cfg.MaxWavelength-s.cfg.MinWavelength)/s.cfg.Step)) + 1
	points := make([]device.SpectralPoint, n)
	for i := range points {
		wl := s.cfg.MinWavelength + float64(i)*s.cfg.Step
		d := (wl - centre) / s.cfg.Width
		points[i] = device.SpectralPoint{
			Wavelength: wl,
			Intensity:  s.cfg.Amplitude*math.Exp(-0.5*d*d) + s.rng.NormFloat64()*s.cfg.Noise,
		}
	}
	return device.Spectrum{CapturedAt: s.now(), Points: points}, nil
}

func (s *Spectrometer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
