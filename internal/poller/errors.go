package poller

import "codeberg.org/dltlab/dltcal/internal/errors"

const (
	ErrPollingFailed   = errors.ErrorCode("poller_failed")
	ErrWorkerRunning   = errors.ErrorCode("poller_already_running")
	ErrWorkerStopped   = errors.ErrorCode("poller_stopped")
	ErrSubscriberTaken = errors.ErrorCode("poller_subscriber_registered")
)
