package main

import (
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/dltlab/dltcal/internal/api"
	"codeberg.org/dltlab/dltcal/internal/bench"
	"codeberg.org/dltlab/dltcal/internal/config"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"codeberg.org/dltlab/dltcal/internal/pid"
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a calibration",
		Long: `Run a calibration from the first setpoint to the last.

With --listen the HTTP API is served alongside the run. Add --wait to leave
the bench idle until a run is started with POST /start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCalibration(cmd, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Do not start a run; wait for POST /start (needs --listen)")
	return cmd
}

func runCalibration(cmd *cobra.Command, wait bool) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, logger.IsService())
	if cfg.ConfigFile != "" {
		logger.Debug().Str("file", cfg.ConfigFile).Msg("Config loaded")
	}
	if wait && cfg.Listen == "" {
		return errors.New().WithMessage(errors.ErrInvalidConfig, "--wait needs --listen")
	}

	lock, err := pid.Acquire("", "")
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := bench.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Release(); err != nil {
			logger.Error().Err(err).Msg("failed to release bench")
		}
	}()

	apiDone := make(chan struct{})
	if cfg.Listen != "" {
		srv := api.NewServer(ctx, s.Controller, s.Events, s.Poller, s.Detector, logger.New("api"))
		go func() {
			defer close(apiDone)
			if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
				logger.Error().Err(err).Msg("HTTP API stopped")
			}
		}()
	} else {
		close(apiDone)
	}

	if wait {
		<-ctx.Done()
		logger.Info().Msg("Received termination signal.")
		s.Controller.Stop()
		<-apiDone
		return nil
	}

	if err := s.Controller.Start(ctx); err != nil {
		return err
	}

	select {
	case <-s.Controller.Done():
	case <-ctx.Done():
		logger.Info().Msg("Received termination signal.")
		s.Controller.Stop()
	}

	st := s.Controller.Status()
	logger.Info().
		Str("run_id", st.RunID).
		Int("captures", st.Captures).
		Int("setpoints", st.Total).
		Str("log", st.LogPath).
		Msg("Run finished")

	stop()
	<-apiDone
	return s.Controller.Err()
}
