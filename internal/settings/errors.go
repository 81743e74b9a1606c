package settings

import "codeberg.org/mutker/chargectl/internal/errors"

const (
	ErrInvalidDBPath = errors.ErrorCode("settings_invalid_db_path")

	// Schema errors
	ErrSchemaInitFailed       = errors.ErrorCode("settings_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("settings_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("settings_schema_migration_failed")

	// Storage errors
	ErrStorageAccess = errors.ErrSettingsAccess
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
)
