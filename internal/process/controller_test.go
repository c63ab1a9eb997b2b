package process_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/events"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"codeberg.org/dltlab/dltcal/internal/poller"
	"codeberg.org/dltlab/dltcal/internal/process"
	"codeberg.org/dltlab/dltcal/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeController struct {
	mu         sync.Mutex
	setpoints  []float64
	ranges     []device.HeaterRange
	heatersOff int
	setErr     error
}

func (f *fakeController) ReadAll(context.Context) (device.Reading, error) {
	return device.Reading{}, nil
}

func (f *fakeController) SetSetpoint(_ context.Context, _ int, k float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.setpoints = append(f.setpoints, k)
	return nil
}

func (f *fakeController) SetHeaterRange(_ context.Context, _ int, r device.HeaterRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, r)
	return nil
}

func (f *fakeController) AllHeatersOff(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heatersOff++
	return nil
}

func (f *fakeController) Close() error { return nil }

func (f *fakeController) commanded() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.setpoints...)
}

type fakeSpectrometer struct {
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSpectrometer) Capture(ctx context.Context) (device.Spectrum, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return device.Spectrum{}, f.err
	}
	return device.Spectrum{
		CapturedAt: runStart,
		Points: []device.SpectralPoint{
			{Wavelength: 500, Intensity: 10},
			{Wavelength: 501, Intensity: 12},
		},
	}, nil
}

func (f *fakeSpectrometer) Close() error { return nil }

type fakeDetector struct {
	stable atomic.Bool
	resets atomic.Int32
}

func (f *fakeDetector) IsStable(float64, float64, float64) bool { return f.stable.Load() }
func (f *fakeDetector) Reset()                                  { f.resets.Add(1) }

type fixedReading struct{ ok bool }

func (f fixedReading) Latest() (device.Reading, bool) {
	return device.Reading{
		Timestamp:     runStart,
		TemperatureA:  50.001,
		TemperatureB:  50.2,
		HeaterOutput1: 42.5,
	}, f.ok
}

type failingRecorder struct{}

func (failingRecorder) WriteLogRow(string, recorder.Row) error { return fmt.Errorf("disk full") }
func (failingRecorder) WriteSpectrum(string, float64, device.Spectrum) (string, error) {
	return "", fmt.Errorf("disk full")
}

type bench struct {
	tc   *fakeController
	spec *fakeSpectrometer
	det  *fakeDetector
	dir  string
	deps process.Deps
	cfg  process.Config
}

func newBench(t *testing.T, start, stop, step float64) *bench {
	t.Helper()
	seq, err := process.NewSetpointSequence(start, stop, step)
	require.NoError(t, err)

	b := &bench{
		tc:   &fakeController{},
		spec: &fakeSpectrometer{},
		det:  &fakeDetector{},
		dir:  t.TempDir(),
	}
	b.cfg = process.DefaultConfig(seq, b.dir)
	b.cfg.TickInterval = 0
	b.deps = process.Deps{
		TemperatureController: device.Connected[device.TemperatureController](b.tc),
		Spectrometer:          device.Connected[device.Spectrometer](b.spec),
		Detector:              b.det,
		Readings:              fixedReading{ok: true},
		Recorder:              recorder.New(recorder.WithLogger(logger.Nop())),
		Clock:                 func() time.Time { return runStart },
		Log:                   logger.Nop(),
	}
	return b
}

func (b *bench) controller(t *testing.T) *process.Controller {
	t.Helper()
	c, err := process.New(b.cfg, b.deps)
	require.NoError(t, err)
	return c
}

func (b *bench) logPath() string {
	return filepath.Join(b.dir, "20260301_120000_DLT-calibration.csv")
}

func (b *bench) spectraDir() string {
	return filepath.Join(b.dir, "20260301_120000_spectra")
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func assertClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestNewRejectsMissingDeps(t *testing.T) {
	b := newBench(t, 50, 60, 10)
	b.deps.Recorder = nil
	_, err := process.New(b.cfg, b.deps)
	assert.True(t, errors.HasCode(err, process.ErrInvalidConfig))
}

func TestStartPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *bench)
		want   string
	}{
		{
			name: "spectrometer disconnected",
			mutate: func(b *bench) {
				b.deps.Spectrometer = device.Disconnected[device.Spectrometer]()
			},
			want: "spectrometer",
		},
		{
			name: "temperature controller disconnected",
			mutate: func(b *bench) {
				b.deps.TemperatureController = device.Disconnected[device.TemperatureController]()
			},
			want: "temperature controller",
		},
		{
			name:   "output dir unset",
			mutate: func(b *bench) { b.cfg.OutputDir = "" },
			want:   "output directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, 50, 70, 10)
			tt.mutate(b)
			c := b.controller(t)

			err := c.Start(context.Background())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, process.ErrPrecondition))
			assert.Contains(t, err.Error(), tt.want)

			assert.Equal(t, process.Idle, c.State())
			assert.Empty(t, b.tc.commanded())
			assert.Empty(t, listDir(t, b.dir))
		})
	}
}

func TestStartWhileRunning(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	c := b.controller(t)
	require.NoError(t, c.Start(context.Background()))

	err := c.Start(context.Background())
	assert.True(t, errors.HasCode(err, process.ErrIllegalState))
	assert.Equal(t, []float64{50}, b.tc.commanded())
}

func TestStartCommandsFirstSetpoint(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.cfg.HeaterRange = device.HeaterMedium
	c := b.controller(t)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, process.Settling, c.State())
	assert.Equal(t, []float64{50}, b.tc.commanded())
	assert.Equal(t, []device.HeaterRange{device.HeaterMedium}, b.tc.ranges)
	assert.Equal(t, int32(1), b.det.resets.Load())

	st := c.Status()
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 50.0, st.Setpoint)
	assert.Equal(t, b.logPath(), st.LogPath)
}

func TestNotStableTickWritesNothing(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	c := b.controller(t)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, process.TickNotStable, c.Tick(context.Background()))
	assert.Equal(t, process.Settling, c.State())
	assert.Empty(t, listDir(t, b.dir))
}

func TestRunEndToEnd(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.det.stable.Store(true)
	c := b.controller(t)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, process.TickAdvanced, c.Tick(ctx))
	assert.Equal(t, process.Settling, c.State())
	assert.Equal(t, process.TickAdvanced, c.Tick(ctx))
	assert.Equal(t, process.TickCompleted, c.Tick(ctx))

	assert.Equal(t, process.Stopped, c.State())
	assertClosed(t, c.Done())
	assert.NoError(t, c.Err())
	assert.Equal(t, process.TickIdle, c.Tick(ctx))

	assert.Equal(t, []float64{50, 60, 70}, b.tc.commanded())
	assert.Equal(t, 1, b.tc.heatersOff)
	assert.Equal(t, int32(3), b.det.resets.Load())
	assert.Equal(t, []string{"50.0K.csv", "60.0K.csv", "70.0K.csv"}, listDir(t, b.spectraDir()))

	data, err := os.ReadFile(b.logPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp,setpoint,temperature_a,temperature_b,heater_output_1,heater_output_2", lines[0])
	assert.Equal(t, "2026-03-01T12:00:00.000Z,50.00,50.0010,50.2000,42.50,0.00", lines[1])
	assert.True(t, strings.HasPrefix(lines[3], "2026-03-01T12:00:00.000Z,70.00,"))

	assert.Equal(t, 3, c.Status().Captures)
}

func TestRunWithoutWindowReset(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.cfg.ResetOnSetpointChange = false
	b.det.stable.Store(true)
	c := b.controller(t)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, int32(0), b.det.resets.Load())
	assert.Equal(t, process.TickAdvanced, c.Tick(ctx))
	assert.Equal(t, process.TickAdvanced, c.Tick(ctx))
	assert.Equal(t, process.TickCompleted, c.Tick(ctx))

	assert.Equal(t, []float64{50, 60, 70}, b.tc.commanded())
	assert.Equal(t, int32(0), b.det.resets.Load())
	assert.Equal(t, []string{"50.0K.csv", "60.0K.csv", "70.0K.csv"}, listDir(t, b.spectraDir()))
}

func TestStopMidSettling(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	c := b.controller(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	c.Stop()
	assert.Equal(t, process.Stopped, c.State())
	assertClosed(t, c.Done())

	b.det.stable.Store(true)
	assert.Equal(t, process.TickIdle, c.Tick(ctx))
	assert.Equal(t, []float64{50}, b.tc.commanded())
	assert.Empty(t, listDir(t, b.dir))
	assert.NoError(t, c.Err())

	c.Stop()
	assert.Equal(t, 1, b.tc.heatersOff)
}

func TestStopWhileIdle(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	c := b.controller(t)

	c.Stop()
	assert.Equal(t, process.Stopped, c.State())
	assert.Zero(t, b.tc.heatersOff)
}

func TestStartAfterStopBeginsNewRun(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	c := b.controller(t)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	first := c.Status().RunID
	c.Stop()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, process.Settling, c.State())
	assert.NotEqual(t, first, c.Status().RunID)
	select {
	case <-c.Done():
		t.Fatal("new run must have a fresh done channel")
	default:
	}
}

func TestCaptureFailureAborts(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.det.stable.Store(true)
	b.spec.err = fmt.Errorf("usb reset")
	c := b.controller(t)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, process.TickFailed, c.Tick(context.Background()))
	assert.Equal(t, process.Stopped, c.State())
	assertClosed(t, c.Done())
	assert.True(t, errors.HasCode(c.Err(), process.ErrCapture))
	assert.Contains(t, c.Status().Error, "usb reset")
	assert.Empty(t, listDir(t, b.dir))
	assert.Equal(t, 1, b.tc.heatersOff)
}

func TestWriteFailureAborts(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.det.stable.Store(true)
	b.deps.Recorder = failingRecorder{}
	c := b.controller(t)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, process.TickFailed, c.Tick(context.Background()))
	assert.Equal(t, process.Stopped, c.State())
	assert.True(t, errors.HasCode(c.Err(), process.ErrWrite))
	assert.Equal(t, []float64{50}, b.tc.commanded())
}

func TestMissingReadingAborts(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.det.stable.Store(true)
	b.deps.Readings = fixedReading{ok: false}
	c := b.controller(t)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, process.TickFailed, c.Tick(context.Background()))
	assert.True(t, errors.HasCode(c.Err(), process.ErrNoReading))
	assert.Equal(t, []string{"50.0K.csv"}, listDir(t, b.spectraDir()))
	_, err := os.Stat(b.logPath())
	assert.True(t, os.IsNotExist(err))
}

func TestCommandFailureAbortsStart(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.tc.setErr = fmt.Errorf("serial timeout")
	c := b.controller(t)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, process.ErrCommand))
	assert.Equal(t, process.Stopped, c.State())
	assert.True(t, errors.HasCode(c.Err(), process.ErrCommand))
}

func TestPollerFailureAborts(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	w := poller.New[device.Reading]("temperature", time.Millisecond, func(context.Context) (device.Reading, error) {
		return device.Reading{}, fmt.Errorf("no response")
	}, poller.WithMaxConsecutiveFailures(1), poller.WithLogger(logger.Nop()))
	b.deps.Poller = w
	c := b.controller(t)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	<-w.Done()

	assert.Equal(t, process.TickFailed, c.Tick(context.Background()))
	assert.Equal(t, process.Stopped, c.State())
	assert.True(t, errors.HasCode(c.Err(), process.ErrPollerStopped))
	assert.True(t, errors.HasCode(c.Err(), poller.ErrPollingFailed))
}

func TestTicksDoNotOverlap(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.det.stable.Store(true)
	b.spec.entered = make(chan struct{})
	b.spec.release = make(chan struct{})
	c := b.controller(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	result := make(chan process.TickResult, 1)
	go func() { result <- c.Tick(ctx) }()
	<-b.spec.entered

	assert.Equal(t, process.TickSkipped, c.Tick(ctx))
	assert.Equal(t, process.Capturing, c.State())

	close(b.spec.release)
	assert.Equal(t, process.TickAdvanced, <-result)
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.det.stable.Store(true)
	b.spec.entered = make(chan struct{})
	b.spec.release = make(chan struct{})
	c := b.controller(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	go c.Tick(ctx)
	<-b.spec.entered

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a capture was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(b.spec.release)
	assertClosed(t, stopped)

	assert.Equal(t, process.Stopped, c.State())
	assert.Equal(t, []string{"50.0K.csv"}, listDir(t, b.spectraDir()))
	assert.Equal(t, []float64{50}, b.tc.commanded(), "no setpoint is commanded once stop is requested")

	entries := listDir(t, b.spectraDir())
	c.Tick(ctx)
	assert.Equal(t, entries, listDir(t, b.spectraDir()))
}

func TestSupervisoryLoopCompletesRun(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.det.stable.Store(true)
	b.cfg.TickInterval = 2 * time.Millisecond
	hub := events.NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	b.deps.Events = hub

	var mu sync.Mutex
	var captured []float64
	b.deps.OnCapture = func(cp process.Capture) {
		mu.Lock()
		captured = append(captured, cp.Setpoint)
		mu.Unlock()
	}
	c := b.controller(t)

	require.NoError(t, c.Start(context.Background()))
	assertClosed(t, c.Done())

	assert.NoError(t, c.Err())
	assert.Equal(t, process.Stopped, c.State())
	mu.Lock()
	assert.Equal(t, []float64{50, 60, 70}, captured)
	mu.Unlock()

	ev := <-sub
	assert.Equal(t, events.ProcessState, ev.Name)
	payload, err := events.DecodeAs[events.StateEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, "Idle", payload.From)
	assert.Equal(t, "Settling", payload.To)
}

func TestSupervisoryLoopStopsOnContextCancel(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.cfg.TickInterval = time.Millisecond
	c := b.controller(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()

	assertClosed(t, c.Done())
	assert.Equal(t, process.Stopped, c.State())
	assert.NoError(t, c.Err())
}

func TestSwapDevicesRejectedWhileRunning(t *testing.T) {
	b := newBench(t, 50, 70, 10)
	b.deps.Spectrometer = device.Disconnected[device.Spectrometer]()
	c := b.controller(t)
	require.Error(t, c.Start(context.Background()))

	require.NoError(t, c.SetSpectrometer(device.Connected[device.Spectrometer](b.spec)))
	require.NoError(t, c.Start(context.Background()))

	err := c.SetSpectrometer(device.Disconnected[device.Spectrometer]())
	assert.True(t, errors.HasCode(err, process.ErrIllegalState))
}
