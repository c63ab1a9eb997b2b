// Package bench assembles a calibration bench from configuration: the
// temperature controller and spectrometer, the polling worker feeding the
// stability detector, the recorder, telemetry and the process controller.
package bench

import (
	"context"
	"time"

	"codeberg.org/dltlab/dltcal/internal/config"
	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/events"
	"codeberg.org/dltlab/dltcal/internal/lakeshore"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"codeberg.org/dltlab/dltcal/internal/poller"
	"codeberg.org/dltlab/dltcal/internal/process"
	"codeberg.org/dltlab/dltcal/internal/recorder"
	"codeberg.org/dltlab/dltcal/internal/sim"
	"codeberg.org/dltlab/dltcal/internal/stability"
	"codeberg.org/dltlab/dltcal/internal/telemetry"
)

const (
	releaseTimeout   = 5 * time.Second
	simTimeConstant  = 5 * time.Second
	telemetryTimeout = time.Second
)

// Session is an open bench. Release must be called exactly when the caller
// is done with it; nothing is closed implicitly.
type Session struct {
	Controller *process.Controller
	Poller     *poller.Worker[device.Reading]
	Detector   *stability.Detector
	Events     *events.Hub
	Telemetry  telemetry.Collector

	tc   device.TemperatureController
	spec device.Spectrometer
	log  logger.Logger

	cancel   context.CancelFunc
	released bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	controller   device.TemperatureController
	spectrometer device.Spectrometer
	simOpts      []sim.ControllerOption
	clock        func() time.Time
	log          logger.Logger
}

// WithTemperatureController uses tc instead of opening one from the
// configuration. The session takes ownership of it.
func WithTemperatureController(tc device.TemperatureController) Option {
	return func(o *options) { o.controller = tc }
}

// WithSpectrometer attaches a spectrometer. The session takes ownership.
func WithSpectrometer(s device.Spectrometer) Option {
	return func(o *options) { o.spectrometer = s }
}

// WithSimulator passes options to the simulated temperature controller.
func WithSimulator(opts ...sim.ControllerOption) Option {
	return func(o *options) { o.simOpts = append(o.simOpts, opts...) }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Open connects the devices and starts polling. The run itself is not
// started; call Session.Controller.Start. ctx bounds the polling worker.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (s *Session, err error) {
	errFactory := errors.New()
	if cfg == nil {
		return nil, errFactory.WithMessage(errors.ErrMissingConfig, "bench needs a configuration")
	}

	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.New("bench")
	}

	pc, err := cfg.ProcessConfig()
	if err != nil {
		return nil, err
	}

	s = &Session{log: o.log}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()

	s.tc, s.spec, err = connect(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	s.Telemetry, err = telemetry.NewService(cfg.TelemetryConfig(), logger.New("telemetry"))
	if err != nil {
		return nil, err
	}

	s.Detector = stability.NewDetector(cfg.DetectorConfig())
	s.Events = events.NewHub()

	s.Poller = poller.New[device.Reading]("temperature", cfg.PollInterval, s.tc.ReadAll,
		poller.WithReadTimeout(cfg.ReadTimeout),
		poller.WithMaxConsecutiveFailures(cfg.MaxConsecutiveFailures),
		poller.WithLogger(logger.New("poller")),
	)
	if err = s.Poller.Subscribe(s.observe); err != nil {
		return nil, err
	}

	specConn := device.Disconnected[device.Spectrometer]()
	if s.spec != nil {
		specConn = device.Connected(s.spec)
	} else {
		s.log.Warn().Msg("No spectrometer attached, runs will not start")
	}

	s.Controller, err = process.New(pc, process.Deps{
		TemperatureController: device.Connected(s.tc),
		Spectrometer:          specConn,
		Detector:              s.Detector,
		Readings:              s.Poller,
		Recorder:              recorder.New(recorder.WithLogger(logger.New("recorder"))),
		Poller:                s.Poller,
		Events:                s.Events,
		OnCapture:             s.recordCapture,
		Clock:                 o.clock,
		Log:                   logger.New("process"),
	})
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err = s.Poller.Start(pollCtx); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", s.Telemetry.SessionID()).
		Int("setpoints", pc.Sequence.Len()).
		Bool("simulated", cfg.Simulate).
		Msg("Bench open")
	return s, nil
}

func connect(ctx context.Context, cfg *config.Config, o options) (device.TemperatureController, device.Spectrometer, error) {
	spec := o.spectrometer
	if o.controller != nil {
		return o.controller, spec, nil
	}

	if cfg.Simulate {
		tc := sim.NewController(append([]sim.ControllerOption{
			sim.WithTimeConstant(simTimeConstant),
		}, o.simOpts...)...)
		if spec == nil {
			spec = sim.NewSpectrometer(sim.DefaultSpectrometerConfig(), tc.Temperature)
		}
		return tc, spec, nil
	}

	port := cfg.Port
	if port == "" {
		p, err := lakeshore.FindPort()
		if err != nil {
			return nil, nil, err
		}
		o.log.Info().Str("port", p.Name).Str("product", p.Product).Msg("Temperature controller detected")
		port = p.Name
	}

	tc, err := lakeshore.Open(ctx, lakeshore.Config{
		Port:        port,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return tc, spec, nil
}

// observe runs on the polling goroutine.
func (s *Session) observe(r device.Reading) {
	s.Detector.Observe(r)

	ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
	defer cancel()
	if err := s.Telemetry.RecordReading(ctx, r); err != nil {
		s.log.Debug().Err(err).Msg("Telemetry reading dropped")
	}
}

func (s *Session) recordCapture(c process.Capture) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
	defer cancel()

	err := s.Telemetry.RecordCapture(ctx, &telemetry.CaptureRecord{
		RunID:        c.RunID,
		Timestamp:    c.Row.Timestamp,
		Setpoint:     c.Setpoint,
		SpectrumPath: c.SpectrumPath,
		Points:       c.Points,
		TemperatureA: c.Row.TemperatureA,
		TemperatureB: c.Row.TemperatureB,
	})
	if err != nil {
		s.log.Warn().Err(err).Float64("setpoint", c.Setpoint).Msg("Telemetry capture dropped")
	}
}

// Release stops any run, stops polling and waits for it, switches the
// heaters off and closes both devices and telemetry. It is safe to call
// more than once.
func (s *Session) Release() error {
	if s == nil || s.released {
		return nil
	}
	s.released = true

	var errs []error
	if s.Controller != nil {
		s.Controller.Stop()
	}
	if s.Poller != nil {
		s.Poller.Stop()
		if err := s.Poller.Wait(); err != nil {
			s.log.Warn().Err(err).Msg("Polling had stopped on its own")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}

	if s.tc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := s.tc.AllHeatersOff(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		if err := s.tc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.spec != nil {
		if err := s.spec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Telemetry != nil {
		if err := s.Telemetry.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Error().Err(err).Msg("Bench released with errors")
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	s.log.Info().Msg("Bench released")
	return nil
}
