package device

import "codeberg.org/dltlab/dltcal/internal/errors"

const (
	ErrConnection   = errors.ErrConnection
	ErrRead         = errors.ErrDeviceRead
	ErrCommand      = errors.ErrDeviceWrite
	ErrNotConnected = errors.ErrNotConnected

	ErrCapture     = errors.ErrorCode("device_capture_failed")
	ErrInvalidLoop = errors.ErrorCode("device_invalid_loop")
)
