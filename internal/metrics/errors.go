package metrics

import "codeberg.org/mutker/chargectl/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrInvalidAddress = errors.ErrorCode("metrics_invalid_address")

	ErrInitMetrics     = errors.ErrInitMetrics
	ErrCollectMetrics  = errors.ErrCollectMetrics
	ErrServiceShutdown = errors.ErrCloseMetrics

	ErrOperationTimeout = errors.ErrTimeout
)
