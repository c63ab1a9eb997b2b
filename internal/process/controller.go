// Package process drives a temperature-stepped calibration run: command a
// setpoint, wait for the bench to settle, capture a spectrum, log the
// temperatures and move on to the next setpoint.
package process

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/events"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"codeberg.org/dltlab/dltcal/internal/recorder"
	"github.com/google/uuid"
)

const (
	runStampLayout = "20060102_150405"
	logFileSuffix  = "_DLT-calibration.csv"
	spectraSuffix  = "_spectra"
)

// LatestSource hands out the newest temperature reading on demand.
type LatestSource interface {
	Latest() (device.Reading, bool)
}

// StabilityDetector judges whether the bench has settled at a target.
type StabilityDetector interface {
	IsStable(target, tolAbs, stdTol float64) bool
	Reset()
}

// Recorder persists run output.
type Recorder interface {
	WriteLogRow(path string, row recorder.Row) error
	WriteSpectrum(dir string, target float64, s device.Spectrum) (string, error)
}

// Watched is a background worker the run depends on. When it finishes while
// a run is in progress the run is aborted.
type Watched interface {
	Done() <-chan struct{}
	Err() error
}

// Capture describes one completed setpoint.
type Capture struct {
	RunID        string
	Index        int
	Setpoint     float64
	SpectrumPath string
	Points       int
	Row          LogRow
}

// Deps wires a Controller to the bench.
type Deps struct {
	TemperatureController device.Connection[device.TemperatureController]
	Spectrometer          device.Connection[device.Spectrometer]

	Detector StabilityDetector
	Readings LatestSource
	Recorder Recorder

	// Optional
	Poller    Watched
	Events    *events.Hub
	OnCapture func(Capture) // runs inside the tick; must not call Stop
	Clock     func() time.Time
	Log       logger.Logger
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	RunID      string    `json:"runId,omitempty"`
	State      string    `json:"state"`
	Index      int       `json:"index"`
	Total      int       `json:"total"`
	Setpoint   float64   `json:"setpoint"`
	Captures   int       `json:"captures"`
	LogPath    string    `json:"logPath,omitempty"`
	SpectraDir string    `json:"spectraDir,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	Error      string    `json:"error,omitempty"`
}

// Controller owns the run state machine. All methods are safe for
// concurrent use.
type Controller struct {
	cfg  Config
	deps Deps
	log  logger.Logger
	now  func() time.Time

	// tickMu is held for the whole of Start, a tick and the tail of Stop.
	tickMu sync.Mutex

	mu         sync.Mutex
	tc         device.Connection[device.TemperatureController]
	spec       device.Connection[device.Spectrometer]
	state      State
	runID      string
	index      int
	captures   int
	logPath    string
	spectraDir string
	startedAt  time.Time
	err        error
	quit       chan struct{}
	quitClosed bool
	done       chan struct{}
	ended      bool
}

// New validates cfg and returns an Idle controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	errFactory := errors.New()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Detector == nil || deps.Readings == nil || deps.Recorder == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "detector, readings and recorder are required")
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.New("process")
	}

	return &Controller{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Log,
		now:   deps.Clock,
		tc:    deps.TemperatureController,
		spec:  deps.Spectrometer,
		state: Idle,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
}

// SetSpectrometer swaps the spectrometer connection. Not allowed while a run
// is in progress.
func (c *Controller) SetSpectrometer(conn device.Connection[device.Spectrometer]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Running() {
		return errors.New().WithMessage(ErrIllegalState, "cannot swap devices while "+c.state.String())
	}
	c.spec = conn
	return nil
}

// Start begins a run from Idle or Stopped. Preconditions are checked before
// anything is commanded or written. ctx bounds the whole run: cancelling it
// stops the supervisory loop and the run.
func (c *Controller) Start(ctx context.Context) error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	if c.state != Idle && c.state != Stopped {
		st := c.state
		c.mu.Unlock()
		return errors.New().WithMessage(ErrIllegalState, "cannot start while "+st.String())
	}
	if err := c.checkPreconditionsLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	tc, _ := c.tc.Handle()
	now := c.now()
	stamp := now.Format(runStampLayout)
	c.runID = uuid.NewString()
	c.index = 0
	c.captures = 0
	c.err = nil
	c.startedAt = now
	c.logPath = filepath.Join(c.cfg.OutputDir, stamp+logFileSuffix)
	c.spectraDir = filepath.Join(c.cfg.OutputDir, stamp+spectraSuffix)
	c.quit = make(chan struct{})
	c.quitClosed = false
	c.done = make(chan struct{})
	c.ended = false
	quit, done := c.quit, c.done
	runID := c.runID
	c.transitionLocked(Settling, "run started")
	c.mu.Unlock()

	sp := c.cfg.Sequence.At(0)
	c.log.Info().
		Str("run_id", runID).
		Int("setpoints", c.cfg.Sequence.Len()).
		Str("output_dir", c.cfg.OutputDir).
		Msg("Calibration run started")

	if c.cfg.ResetOnSetpointChange {
		c.deps.Detector.Reset()
	}
	if err := c.commandSetpoint(ctx, tc, sp); err != nil {
		c.abort(err)
		return err
	}

	if c.cfg.TickInterval > 0 {
		go c.supervise(ctx, quit, done)
	}
	return nil
}

// Tick runs one supervisory step. A tick that finds another one in flight
// returns TickSkipped without doing anything.
func (c *Controller) Tick(ctx context.Context) TickResult {
	if !c.tickMu.TryLock() {
		return TickSkipped
	}
	defer c.tickMu.Unlock()
	return c.tick(ctx)
}

// Stop ends the run. It waits for an in-flight tick, so no file is written
// after it returns. Calling Stop more than once is harmless.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return
	}
	c.closeQuitLocked()
	c.mu.Unlock()

	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	from := c.state
	if from == Stopped {
		c.mu.Unlock()
		return
	}
	runID := c.runID
	c.transitionLocked(Stopped, "stop requested")
	c.endRunLocked()
	c.mu.Unlock()

	if from == Idle {
		return
	}
	c.log.Info().Str("run_id", runID).Str("from", from.String()).Msg("Calibration run stopped")
	c.heatersOff()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current run reaches Stopped.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that aborted the last run, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		RunID:      c.runID,
		State:      c.state.String(),
		Index:      c.index,
		Total:      c.cfg.Sequence.Len(),
		Captures:   c.captures,
		LogPath:    c.logPath,
		SpectraDir: c.spectraDir,
		StartedAt:  c.startedAt,
	}
	if c.index < s.Total {
		s.Setpoint = c.cfg.Sequence.At(c.index)
	} else {
		s.Setpoint = c.cfg.Sequence.At(s.Total - 1)
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

func (c *Controller) tick(ctx context.Context) TickResult {
	c.mu.Lock()
	if c.state != Settling || c.quitClosed {
		c.mu.Unlock()
		return TickIdle
	}
	idx := c.index
	runID := c.runID
	logPath, spectraDir := c.logPath, c.spectraDir
	spec, _ := c.spec.Handle()
	tc, _ := c.tc.Handle()
	c.mu.Unlock()

	sp := c.cfg.Sequence.At(idx)

	if err := c.pollerFailure(); err != nil {
		c.abort(err)
		return TickFailed
	}

	if !c.deps.Detector.IsStable(sp, c.cfg.ToleranceAbs, c.cfg.StdTolerance) {
		c.log.Debug().Float64("setpoint", sp).Msg("Not yet stable")
		return TickNotStable
	}

	c.transition(Stable, "")
	c.transition(Capturing, "")
	c.log.Info().Float64("setpoint", sp).Msg("Temperature stable, capturing spectrum")

	cctx, cancel := c.commandContext(ctx)
	spectrum, err := spec.Capture(cctx)
	cancel()
	if err != nil {
		c.abort(errors.Wrap(ErrCapture, err))
		return TickFailed
	}
	path, err := c.deps.Recorder.WriteSpectrum(spectraDir, sp, spectrum)
	if err != nil {
		c.abort(errors.Wrap(ErrWrite, err))
		return TickFailed
	}

	c.transition(Advancing, "")
	reading, ok := c.deps.Readings.Latest()
	if !ok {
		c.abort(errors.New().WithMessage(ErrNoReading, "no temperature reading available"))
		return TickFailed
	}
	row := newLogRow(c.now(), sp, reading)
	if err := c.deps.Recorder.WriteLogRow(logPath, row.Row()); err != nil {
		c.abort(errors.Wrap(ErrWrite, err))
		return TickFailed
	}

	c.mu.Lock()
	c.captures++
	c.index++
	next := c.index
	stopping := c.quitClosed
	c.mu.Unlock()

	c.log.Info().
		Float64("setpoint", sp).
		Str("spectrum", path).
		Float64("temperature_a", reading.TemperatureA).
		Msg("Setpoint recorded")
	c.deps.Events.Publish(events.ProcessCapture, events.CaptureEvent{
		RunID:    runID,
		Setpoint: sp,
		Path:     path,
		Ts:       c.now().Unix(),
	})
	if c.deps.OnCapture != nil {
		c.deps.OnCapture(Capture{
			RunID:        runID,
			Index:        idx,
			Setpoint:     sp,
			SpectrumPath: path,
			Points:       len(spectrum.Points),
			Row:          row,
		})
	}

	if next >= c.cfg.Sequence.Len() {
		c.complete()
		return TickCompleted
	}
	if stopping {
		return TickAdvanced
	}

	if err := c.commandSetpoint(ctx, tc, c.cfg.Sequence.At(next)); err != nil {
		c.abort(err)
		return TickFailed
	}
	if c.cfg.ResetOnSetpointChange {
		c.deps.Detector.Reset()
	}
	c.transition(Settling, "")
	return TickAdvanced
}

func (c *Controller) supervise(ctx context.Context, quit, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	var pollerDone <-chan struct{}
	if c.deps.Poller != nil {
		pollerDone = c.deps.Poller.Done()
	}

	for {
		select {
		case <-quit:
			return
		case <-done:
			return
		case <-ctx.Done():
			c.Stop()
			return
		case <-pollerDone:
			pollerDone = nil
			c.Tick(ctx)
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

func (c *Controller) checkPreconditionsLocked() error {
	errFactory := errors.New()
	switch {
	case !c.spec.IsConnected():
		return errFactory.WithMessage(ErrPrecondition, "spectrometer not connected")
	case !c.tc.IsConnected():
		return errFactory.WithMessage(ErrPrecondition, "temperature controller not connected")
	case c.cfg.OutputDir == "":
		return errFactory.WithMessage(ErrPrecondition, "output directory not set")
	}
	return nil
}

func (c *Controller) commandSetpoint(ctx context.Context, tc device.TemperatureController, sp float64) errors.Error {
	cctx, cancel := c.commandContext(ctx)
	defer cancel()

	if err := tc.SetSetpoint(cctx, c.cfg.ControlLoop, sp); err != nil {
		return errors.Wrap(ErrCommand, err).WithMessage(fmt.Sprintf("set setpoint %.2f K", sp))
	}
	if err := tc.SetHeaterRange(cctx, c.cfg.ControlLoop, c.cfg.HeaterRange); err != nil {
		return errors.Wrap(ErrCommand, err).WithMessage("set heater range " + c.cfg.HeaterRange.String())
	}
	c.log.Info().
		Float64("setpoint", sp).
		Int("loop", c.cfg.ControlLoop).
		Str("heater_range", c.cfg.HeaterRange.String()).
		Msg("Setpoint commanded")
	return nil
}

func (c *Controller) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CommandTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) pollerFailure() errors.Error {
	if c.deps.Poller == nil {
		return nil
	}
	select {
	case <-c.deps.Poller.Done():
	default:
		return nil
	}
	if err := c.deps.Poller.Err(); err != nil {
		return errors.Wrap(ErrPollerStopped, err)
	}
	return errors.New().New(ErrPollerStopped)
}

// abort moves a running controller through Errored to Stopped.
func (c *Controller) abort(err errors.Error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.err = err
	runID := c.runID
	c.transitionLocked(Errored, err.Error())
	c.transitionLocked(Stopped, "")
	c.endRunLocked()
	c.mu.Unlock()

	c.log.ErrorWithCode(err).Str("run_id", runID).Msg("Calibration run aborted")
	c.heatersOff()
}

func (c *Controller) complete() {
	c.mu.Lock()
	runID := c.runID
	captures := c.captures
	c.transitionLocked(Stopped, "sequence complete")
	c.endRunLocked()
	c.mu.Unlock()

	c.log.Info().Str("run_id", runID).Int("captures", captures).Msg("Calibration run complete")
	c.heatersOff()
}

func (c *Controller) heatersOff() {
	if !c.cfg.HeatersOffOnStop {
		return
	}
	c.mu.Lock()
	tc, ok := c.tc.Handle()
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
	defer cancel()
	if err := tc.AllHeatersOff(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to switch heaters off")
		return
	}
	c.log.Debug().Msg("Heaters off")
}

func (c *Controller) transition(to State, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitionLocked(to, msg)
}

func (c *Controller) transitionLocked(to State, msg string) {
	from := c.state
	if !canTransition(from, to) {
		c.log.Error().Str("from", from.String()).Str("to", to.String()).Msg("Illegal state transition ignored")
		return
	}
	c.state = to

	var sp float64
	if n := c.cfg.Sequence.Len(); c.index < n {
		sp = c.cfg.Sequence.At(c.index)
	}
	c.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State transition")
	c.deps.Events.Publish(events.ProcessState, events.StateEvent{
		RunID:    c.runID,
		From:     from.String(),
		To:       to.String(),
		Index:    c.index,
		Setpoint: sp,
		Message:  msg,
		Ts:       c.now().Unix(),
	})
}

func (c *Controller) closeQuitLocked() {
	if !c.quitClosed {
		close(c.quit)
		c.quitClosed = true
	}
}

func (c *Controller) endRunLocked() {
	c.closeQuitLocked()
	if !c.ended {
		close(c.done)
		c.ended = true
	}
}
