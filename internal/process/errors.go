package process

import "codeberg.org/dltlab/dltcal/internal/errors"

const (
	ErrInvalidSequence = errors.ErrorCode("process_invalid_sequence")
	ErrInvalidConfig   = errors.ErrorCode("process_invalid_config")
	ErrPrecondition    = errors.ErrorCode("process_precondition_failed")
	ErrIllegalState    = errors.ErrorCode("process_illegal_state")
	ErrCommand         = errors.ErrorCode("process_command_failed")
	ErrCapture         = errors.ErrorCode("process_capture_failed")
	ErrWrite           = errors.ErrorCode("process_write_failed")
	ErrNoReading       = errors.ErrorCode("process_no_reading")
	ErrPollerStopped   = errors.ErrorCode("process_poller_stopped")
)
