package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
)

const backupDirName = "backups"

// ownedTables lists every table of the schema, dependents first.
var ownedTables = []string{"captures", "readings", "sessions", "schema_versions"}

func migrationError(step, target string, err error) errors.Error {
	return errors.Wrap(ErrSchemaMigrationFailed, err).
		WithMessage(fmt.Sprintf("schema migration failed to %s %s", step, target))
}

// BackupPath names the copy of dbPath taken before a database at version is
// reset.
func BackupPath(dbPath string, version int, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
	name := fmt.Sprintf("%s_v%d_%s.db", base, version, at.UTC().Format("20060102T150405Z"))
	return filepath.Join(filepath.Dir(dbPath), backupDirName, name)
}

// ValidateAndUpdateSchema brings db to SchemaVersion. An empty database is
// initialised. A database at any other version is copied to BackupPath and
// recreated empty. Old rows are not carried over.
func ValidateAndUpdateSchema(db *sql.DB, dbPath string, log logger.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return errors.Wrap(ErrSchemaValidationFailed, err)
	}

	switch version {
	case SchemaVersion:
		log.Debug().Int("version", version).Msg("Schema up to date")
		return nil
	case 0:
		log.Debug().Msg("Empty database, creating schema")
	default:
		backup := BackupPath(dbPath, version, time.Now())
		if err := os.MkdirAll(filepath.Dir(backup), defaultDirPerm); err != nil {
			return migrationError("create", filepath.Dir(backup), err)
		}
		// VACUUM INTO cannot run inside a transaction.
		if _, err := db.Exec("VACUUM INTO ?", backup); err != nil {
			return migrationError("back up to", backup, err)
		}
		log.Warn().
			Int("found", version).
			Int("expected", SchemaVersion).
			Str("backup", backup).
			Msg("Schema version mismatch, database backed up and reset")
	}

	if err := dropOwnedTables(db); err != nil {
		return err
	}
	return InitSchema(db, log)
}

func dropOwnedTables(db *sql.DB) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return migrationError("begin", "drop", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range ownedTables {
		if _, err = tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return migrationError("drop", table, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return migrationError("commit", "drop", err)
	}
	return nil
}
