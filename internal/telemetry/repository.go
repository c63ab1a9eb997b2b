package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// maxBufferedReadings caps the backlog when the database falls behind.
	maxBufferedReadings = 10000
	busyTimeoutMS       = 5000
)

// repository buffers readings in memory and writes them in batches from its
// own goroutine. Captures are rare and go straight to the database.
type repository struct {
	db        *sql.DB
	logger    logger.Logger
	cfg       Config
	sessionID string

	// writeBatch persists one batch. Tests swap it out.
	writeBatch func(batch []device.Reading) error

	mu      sync.Mutex
	buffer  []device.Reading
	closed  bool
	dropped int

	flushTicker   *time.Ticker
	flushNow      chan struct{}
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config, sessionID string, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.BatchSize < 1 {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "telemetry batch size must be at least 1")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err).WithMessage("create directory for " + cfg.DBPath)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_foreign_keys=1&_busy_timeout=%d", cfg.DBPath, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}
	// One connection serialises the flusher and capture writes.
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if _, err := db.Exec(insertSessionSQL, sessionID, time.Now().UnixMilli()); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Str("session_id", sessionID).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	return startRepository(db, cfg, sessionID, log), nil
}

func startRepository(db *sql.DB, cfg Config, sessionID string, log logger.Logger) *repository {
	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		sessionID:     sessionID,
		buffer:        make([]device.Reading, 0, cfg.BatchSize),
		flushNow:      make(chan struct{}, 1),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	repo.writeBatch = repo.write
	if cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
	}
	go repo.flusher()
	return repo
}

// StoreReading only appends to the buffer; it never touches the database.
// A full batch wakes the flusher.
func (r *repository) StoreReading(reading device.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}
	if len(r.buffer) >= maxBufferedReadings {
		r.dropped++
		return errors.New().WithData(ErrBufferFull, r.dropped)
	}
	r.buffer = append(r.buffer, reading)
	if len(r.buffer) >= r.cfg.BatchSize {
		select {
		case r.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

func (r *repository) StoreCapture(ctx context.Context, c *CaptureRecord) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.New().New(ErrClosed)
	}

	_, err := r.db.ExecContext(ctx, insertCaptureSQL,
		r.sessionID,
		c.RunID,
		c.Timestamp.UnixMilli(),
		c.Setpoint,
		c.SpectrumPath,
		c.Points,
		c.TemperatureA,
		c.TemperatureB,
	)
	if err != nil {
		return errors.Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	if err := r.flush(); err != nil {
		r.logger.Warn().Err(err).Msg("Final flush failed")
	}

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.db.Close()
		return errors.Wrap(ErrStorageClose, err)
	}
	if err := r.db.Close(); err != nil {
		return errors.Wrap(ErrStorageClose, err)
	}

	r.logger.Info().Msg("Telemetry repository closed gracefully")
	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	var tick <-chan time.Time
	if r.flushTicker != nil {
		tick = r.flushTicker.C
	}
	for {
		select {
		case <-tick:
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic flush failed")
			}
		case <-r.flushNow:
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Batch flush failed")
			}
		case <-r.shutdownChan:
			return
		}
	}
}

// flush takes the buffered readings and writes them. A failed batch is
// dropped.
func (r *repository) flush() error {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = make([]device.Reading, 0, r.cfg.BatchSize)
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn().Int("dropped", dropped).Msg("Telemetry backlog full, readings dropped")
	}
	if len(batch) == 0 {
		return nil
	}
	return r.writeBatch(batch)
}

// write stores batch in one transaction.
func (r *repository) write(batch []device.Reading) error {
	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertReadingSQL)
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			r.logger.Error().Err(rerr).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, reading := range batch {
		if _, err := stmt.Exec(
			r.sessionID,
			reading.Timestamp.UnixMilli(),
			reading.TemperatureA,
			reading.TemperatureB,
			reading.HeaterOutput1,
			reading.HeaterOutput2,
		); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				r.logger.Error().Err(rerr).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(batch)).Msg("Flushed readings to database")
	return nil
}
