package lakeshore

import "codeberg.org/dltlab/dltcal/internal/errors"

const (
	ErrOpenPort      = errors.ErrorCode("lakeshore_open_failed")
	ErrBadResponse   = errors.ErrorCode("lakeshore_bad_response")
	ErrNoDevice      = errors.ErrorCode("lakeshore_not_found")
	ErrEnumerate     = errors.ErrorCode("lakeshore_enumerate_failed")
	ErrWrongIdentity = errors.ErrorCode("lakeshore_wrong_identity")
)
