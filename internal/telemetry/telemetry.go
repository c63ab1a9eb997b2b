// Package telemetry keeps an optional SQLite history of every polled
// reading and every capture, grouped by a per-process session ID.
package telemetry

import (
	"context"
	"math"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"github.com/google/uuid"
)

type service struct {
	repo      Repository
	sessionID string
}

// No-op implementation
type noopCollector struct{ sessionID string }

func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	if log == nil {
		log = logger.New("telemetry")
	}

	sessionID := uuid.NewString()
	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return &noopCollector{sessionID: sessionID}, nil
	}

	repo, err := NewRepository(cfg, sessionID, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo, sessionID: sessionID}, nil
}

func (s *service) RecordReading(ctx context.Context, r device.Reading) error {
	errFactory := errors.New()

	if r.Timestamp.IsZero() || math.IsNaN(r.TemperatureA) || math.IsNaN(r.TemperatureB) {
		return errFactory.New(ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrOperationTimeout, err)
	}
	return s.repo.StoreReading(r)
}

func (s *service) RecordCapture(ctx context.Context, c *CaptureRecord) error {
	errFactory := errors.New()

	if c == nil || c.RunID == "" {
		return errFactory.New(ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrOperationTimeout, err)
	}
	return s.repo.StoreCapture(ctx, c)
}

func (s *service) SessionID() string { return s.sessionID }

func (s *service) Close() error {
	return s.repo.Close()
}

func (*noopCollector) RecordReading(context.Context, device.Reading) error { return nil }

func (*noopCollector) RecordCapture(context.Context, *CaptureRecord) error { return nil }

func (n *noopCollector) SessionID() string { return n.sessionID }

func (*noopCollector) Close() error { return nil }
