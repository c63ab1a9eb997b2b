// Package sim provides in-process stand-ins for the bench hardware: a
// temperature controller with a first-order thermal response and a
// spectrometer whose emission peak follows that temperature.
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

const (
	defaultAmbient      = 295.0 // K
	defaultTimeConstant = 30 * time.Second
	defaultNoise        = 0.005 // K, 1 sigma
	defaultSensorOffset = 0.03  // K, input B relative to A
	heaterGain          = 20.0  // % per K of error
)

// rangeFraction scales the approach rate by heater range.
var rangeFraction = map[device.HeaterRange]float64{
	device.HeaterOff:    0,
	device.HeaterLow:    0.25,
	device.HeaterMedium: 0.5,
	device.HeaterHigh:   1,
}

// Controller simulates a two-loop temperature controller. Loop 1 drives the
// simulated stage; loop 2 only stores its setpoint and range.
type Controller struct {
	mu sync.Mutex

	now     func() time.Time
	rng     *rand.Rand
	tau     time.Duration
	noise   float64
	ambient float64

	temp     float64
	last     time.Time
	setpoint [2]float64
	ranges   [2]device.HeaterRange
	closed   bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

func WithTimeConstant(tau time.Duration) ControllerOption {
	return func(c *Controller) { c.tau = tau }
}

// WithNoise sets the 1-sigma sensor noise in Kelvin.
func WithNoise(sigma float64) ControllerOption {
	return func(c *Controller) { c.noise = sigma }
}

// WithInitialTemperature places the stage at k Kelvin.
func WithInitialTemperature(k float64) ControllerOption {
	return func(c *Controller) { c.temp = k }
}

func WithSeed(seed int64) ControllerOption {
	return func(c *Controller) { c.rng = rand.New(rand.NewSource(seed)) }
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		now:     time.Now,
		tau:     defaultTimeConstant,
		noise:   defaultNoise,
		ambient: defaultAmbient,
		temp:    defaultAmbient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.last = c.now()
	c.setpoint = [2]float64{c.temp, c.temp}
	return c
}

func (c *Controller) ReadAll(ctx context.Context) (device.Reading, error) {
	if err := ctx.Err(); err != nil {
		return device.Reading{}, errors.Wrap(device.ErrRead, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.Reading{}, errors.New().New(device.ErrNotConnected)
	}

	now := c.advanceLocked()
	return device.Reading{
		Timestamp:     now,
		TemperatureA:  c.temp + c.rng.NormFloat64()*c.noise,
		TemperatureB:  c.temp + defaultSensorOffset + c.rng.NormFloat64()*c.noise,
		HeaterOutput1: c.heaterOutputLocked(),
		HeaterOutput2: 0,
	}, nil
}

func (c *Controller) SetSetpoint(_ context.Context, loop int, kelvin float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(loop); err != nil {
		return err
	}
	c.advanceLocked()
	c.setpoint[loop-1] = kelvin
	return nil
}

func (c *Controller) SetHeaterRange(_ context.Context, loop int, r device.HeaterRange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(loop); err != nil {
		return err
	}
	c.advanceLocked()
	c.ranges[loop-1] = r
	return nil
}

func (c *Controller) AllHeatersOff(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New().New(device.ErrNotConnected)
	}
	c.advanceLocked()
	c.ranges = [2]device.HeaterRange{device.HeaterOff, device.HeaterOff}
	return nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Temperature returns the noiseless stage temperature.
func (c *Controller) Temperature() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	return c.temp
}

func (c *Controller) checkLocked(loop int) error {
	if c.closed {
		return errors.New().New(device.ErrNotConnected)
	}
	if loop != 1 && loop != 2 {
		return errors.New().WithData(device.ErrInvalidLoop, loop)
	}
	return nil
}

// advanceLocked integrates the thermal model up to now. With the heater off
// the stage relaxes towards ambient.
func (c *Controller) advanceLocked() time.Time {
	now := c.now()
	dt := now.Sub(c.last)
	c.last = now
	if dt <= 0 || c.tau <= 0 {
		return now
	}

	target := c.ambient
	rate := 1.0
	if f := rangeFraction[c.ranges[0]]; f > 0 {
		target = c.setpoint[0]
		rate = f
	}
	k := 1 - math.Exp(-rate*dt.Seconds()/c.tau.Seconds())
	c.temp += (target - c.temp) * k
	return now
}

func (c *Controller) heaterOutputLocked() float64 {
	if c.ranges[0] == device.HeaterOff {
		return 0
	}
	out := heaterGain * (c.setpoint[0] - c.temp)
	return math.Max(0, math.Min(100, out))
}
