package sim_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ t time.Time }

func (m *manualClock) now() time.Time          { return m.t }
func (m *manualClock) advance(d time.Duration) { m.t = m.t.Add(d) }

func TestControllerApproachesSetpoint(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	c := sim.NewController(
		sim.WithClock(clk.now),
		sim.WithInitialTemperature(80),
		sim.WithTimeConstant(time.Second),
		sim.WithNoise(0),
		sim.WithSeed(1),
	)
	ctx := context.Background()

	require.NoError(t, c.SetSetpoint(ctx, 1, 60))
	require.NoError(t, c.SetHeaterRange(ctx, 1, device.HeaterHigh))

	clk.advance(20 * time.Second)
	r, err := c.ReadAll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 60, r.TemperatureA, 1e-6)
	assert.InDelta(t, 60.03, r.TemperatureB, 1e-6)
	assert.Equal(t, clk.t, r.Timestamp)
}

func TestControllerHeatersOffRelaxToAmbient(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	c := sim.NewController(
		sim.WithClock(clk.now),
		sim.WithInitialTemperature(60),
		sim.WithTimeConstant(time.Second),
		sim.WithNoise(0),
	)
	require.NoError(t, c.AllHeatersOff(context.Background()))

	clk.advance(time.Second)
	assert.Greater(t, c.Temperature(), 60.0)
}

func TestControllerRejectsBadLoop(t *testing.T) {
	c := sim.NewController()
	err := c.SetSetpoint(context.Background(), 3, 50)
	assert.True(t, errors.HasCode(err, device.ErrInvalidLoop))
}

func TestControllerClosed(t *testing.T) {
	c := sim.NewController()
	require.NoError(t, c.Close())

	_, err := c.ReadAll(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrNotConnected))
}

func TestSpectrometerPeakTracksTemperature(t *testing.T) {
	cfg := sim.DefaultSpectrometerConfig()
	cfg.Noise = 0
	temp := 77.0
	s := sim.NewSpectrometer(cfg, func() float64 { return temp })

	peak := func() float64 {
		sp, err := s.Capture(context.Background())
		require.NoError(t, err)
		best := sp.Points[0]
		for _, p := range sp.Points {
			if p.Intensity > best.Intensity {
				best = p
			}
		}
		return best.Wavelength
	}

	assert.InDelta(t, 780, peak(), cfg.Step)
	temp = 177
	assert.InDelta(t, 807, peak(), cfg.Step)
}

func TestSpectrometerClosed(t *testing.T) {
	s := sim.NewSpectrometer(sim.DefaultSpectrometerConfig(), func() float64 { return 77 })
	require.NoError(t, s.Close())
	_, err := s.Capture(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrNotConnected))
}
