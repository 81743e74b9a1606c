package mqtt

import "codeberg.org/mutker/chargectl/internal/errors"

const (
	ErrConnect        = errors.ErrorCode("mqtt_connect_failed")
	ErrPublish        = errors.ErrorCode("mqtt_publish_failed")
	ErrSubscribe      = errors.ErrorCode("mqtt_subscribe_failed")
	ErrInvalidCommand = errors.ErrorCode("mqtt_invalid_command")
)
