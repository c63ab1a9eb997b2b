package telemetry

import "codeberg.org/dltlab/dltcal/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("telemetry_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("telemetry_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("telemetry_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageInit   = errors.ErrInitTelemetry
	ErrStorageClose  = errors.ErrCloseTelemetry

	// Collection Errors
	ErrInvalidRecord = errors.ErrorCode("telemetry_invalid_record")
	ErrClosed        = errors.ErrorCode("telemetry_closed")
	ErrBufferFull    = errors.ErrorCode("telemetry_buffer_full")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
