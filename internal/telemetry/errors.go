package telemetry

import "codeberg.org/mutker/chargectl/internal/errors"

const (
	ErrReadFailed   = errors.ErrorCode("telemetry_read_failed")
	ErrInvalidValue = errors.ErrorCode("telemetry_invalid_value")
)
