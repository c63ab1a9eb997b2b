package telemetry

import (
	"database/sql"

	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS sessions (
	       id          TEXT PRIMARY KEY,
	       started_at  INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS readings (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       session_id      TEXT NOT NULL REFERENCES sessions(id),
	       timestamp_ms    INTEGER NOT NULL,
	       temperature_a   REAL NOT NULL,
	       temperature_b   REAL NOT NULL,
	       heater_output_1 REAL NOT NULL,
	       heater_output_2 REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS readings_session_ts ON readings(session_id, timestamp_ms);
	   CREATE TABLE IF NOT EXISTS captures (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       session_id     TEXT NOT NULL REFERENCES sessions(id),
	       run_id         TEXT NOT NULL,
	       timestamp_ms   INTEGER NOT NULL,
	       setpoint       REAL NOT NULL,
	       spectrum_path  TEXT NOT NULL,
	       points         INTEGER NOT NULL CHECK (points >= 0),
	       temperature_a  REAL NOT NULL,
	       temperature_b  REAL NOT NULL
	   );`

	insertSessionSQL = `INSERT INTO sessions (id, started_at) VALUES (?, ?)`

	insertReadingSQL = `
    INSERT INTO readings (
        session_id, timestamp_ms,
        temperature_a, temperature_b,
        heater_output_1, heater_output_2
    ) VALUES (?, ?, ?, ?, ?, ?)`

	insertCaptureSQL = `
    INSERT INTO captures (
        session_id, run_id, timestamp_ms,
        setpoint, spectrum_path, points,
        temperature_a, temperature_b
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
