package recorder

import "codeberg.org/dltlab/dltcal/internal/errors"

const (
	ErrWrite          = errors.ErrorCode("recorder_write_failed")
	ErrSchemaMismatch = errors.ErrorCode("recorder_schema_mismatch")
	ErrInvalidRow     = errors.ErrorCode("recorder_invalid_row")
	ErrFileExists     = errors.ErrorCode("recorder_file_exists")
)
