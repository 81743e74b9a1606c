package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Resource errors
	ErrResourceBusy     ErrorCode = "resource_busy"
	ErrResourceNotFound ErrorCode = "resource_not_found"

	// Charge control errors
	ErrSettingsAccess      ErrorCode = "settings_access_failed"
	ErrActuatorUnreachable ErrorCode = "actuator_unreachable"
	ErrActuatorCall        ErrorCode = "actuator_call_failed"
	ErrInvalidLimit        ErrorCode = "invalid_charge_limit"

	// Application errors
	ErrInitApp         ErrorCode = "init_app_failed"
	ErrMainLoop        ErrorCode = "main_loop_failed"
	ErrRestoreCharging ErrorCode = "restore_charging_failed"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Metrics errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:            "Internal error occurred",
	ErrInvalidArgument:     "Invalid argument provided",
	ErrNotImplemented:      "Operation not implemented",
	ErrUnavailable:         "Service unavailable",
	ErrAlreadyRunning:      "Another instance is already running",
	ErrInvalidConfig:       "Invalid configuration",
	ErrMissingConfig:       "Missing configuration",
	ErrBindFlags:           "Failed to bind flags",
	ErrReadConfig:          "Failed to read config file",
	ErrInvalidInterval:     "Invalid interval value",
	ErrInvalidLogLevel:     "Invalid log level",
	ErrInitFailed:          "Initialization failed",
	ErrShutdownFailed:      "Shutdown failed",
	ErrResourceBusy:        "Resource is busy",
	ErrResourceNotFound:    "Resource not found",
	ErrSettingsAccess:      "Failed to access settings",
	ErrActuatorUnreachable: "Charging control unreachable",
	ErrActuatorCall:        "Charging control command failed",
	ErrInvalidLimit:        "Charge limit out of range",
	ErrInitApp:             "Failed to initialize application",
	ErrMainLoop:            "Error in main loop",
	ErrRestoreCharging:     "Failed to restore charging",
	ErrOperationFailed:     "Operation failed",
	ErrTimeout:             "Operation timed out",
	ErrInitMetrics:         "Failed to initialize metrics",
	ErrCollectMetrics:      "Failed to collect metrics data",
	ErrCloseMetrics:        "Failed to close metrics connection",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
