package telemetry

import (
	"time"

	"codeberg.org/dltlab/dltcal/internal/errors"
)

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "dltcal-telemetry.db"
	defaultBatchSize    = 50
	defaultBatchTimeout = 10 * time.Second
)

type Config struct {
	Enabled      bool
	DBPath       string
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Enabled:      false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the rest if telemetry is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithMessage(ErrInvalidConfig, "telemetry batch size must be at least 1")
	}
	if c.BatchTimeout < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "telemetry batch timeout must not be negative")
	}
	return nil
}
