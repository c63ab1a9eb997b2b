package stability_test

import (
	"math"
	"testing"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/stability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(d *stability.Detector, n int, a, b func(i int) float64) {
	for i := 0; i < n; i++ {
		d.Observe(device.Reading{TemperatureA: a(i), TemperatureB: b(i)})
	}
}

func constant(v float64) func(int) float64 { return func(int) float64 { return v } }

// alternating returns v±amp, giving a population std of exactly amp.
func alternating(v, amp float64) func(int) float64 {
	return func(i int) float64 {
		if i%2 == 0 {
			return v + amp
		}
		return v - amp
	}
}

func TestDetectorDefaults(t *testing.T) {
	d := stability.NewDetector(stability.Config{})
	cfg := d.Config()
	assert.Equal(t, 60, cfg.BufferLength)
	assert.InDelta(t, 0.02, cfg.TolAbs, 1e-12)
	assert.InDelta(t, 0.05, cfg.StdTol, 1e-12)
}

func TestDetectorNeverStableBeforeFull(t *testing.T) {
	for _, n := range []int{1, 5, 10} {
		d := stability.NewDetector(stability.Config{BufferLength: n})
		for i := 0; i < n-1; i++ {
			d.Observe(device.Reading{TemperatureA: 50, TemperatureB: 50})
			assert.False(t, d.Stable(50), "buffer %d with %d samples", n, i+1)
		}
		d.Observe(device.Reading{TemperatureA: 50, TemperatureB: 50})
		assert.True(t, d.Stable(50), "buffer %d full", n)
	}
}

func TestDetectorConditions(t *testing.T) {
	tests := []struct {
		name   string
		a, b   func(int) float64
		target float64
		want   bool
	}{
		{"settled", alternating(60.005, 0.01), alternating(59.2, 0.02), 60, true},
		{"mean outside tolerance", constant(60.03), constant(60), 60, false},
		{"mean just inside tolerance", constant(60.019), constant(60), 60, true},
		{"primary too noisy", alternating(60, 0.06), constant(60), 60, false},
		{"secondary too noisy", constant(60), alternating(55, 0.08), 60, false},
		{"below target", constant(59.9), constant(59.9), 60, false},
		{"primary NaN", constant(math.NaN()), constant(60), 60, false},
		{"secondary NaN", constant(60), constant(math.NaN()), 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := stability.NewDetector(stability.Config{BufferLength: 20})
			feed(d, 20, tt.a, tt.b)
			assert.Equal(t, tt.want, d.IsStable(tt.target, 0.02, 0.05))
		})
	}
}

func TestDetectorWindowSlides(t *testing.T) {
	d := stability.NewDetector(stability.Config{BufferLength: 10})
	feed(d, 10, constant(40), constant(40))
	assert.False(t, d.Stable(50))

	// Ten fresh samples push the stale ones out.
	feed(d, 10, constant(50), constant(50))
	assert.True(t, d.Stable(50))
}

func TestDetectorReset(t *testing.T) {
	d := stability.NewDetector(stability.Config{BufferLength: 4})
	feed(d, 4, constant(70), constant(70))
	require.True(t, d.Stable(70))

	d.Reset()
	assert.False(t, d.Stable(70))
	assert.Zero(t, d.Stats().Samples)
}

func TestDetectorStats(t *testing.T) {
	d := stability.NewDetector(stability.Config{BufferLength: 4})
	feed(d, 4, alternating(10, 1), constant(3))

	s := d.Stats()
	assert.Equal(t, 4, s.Samples)
	assert.Equal(t, 4, s.Capacity)
	assert.InDelta(t, 10, s.PrimaryMean, 1e-9)
	assert.InDelta(t, 1, s.PrimaryStd, 1e-9)
	assert.InDelta(t, 3, s.SecondaryMean, 1e-9)
	assert.InDelta(t, 0, s.SecondaryStd, 1e-9)
}
