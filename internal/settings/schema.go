package settings

import (
	"database/sql"

	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS settings (
	       key         TEXT PRIMARY KEY,
	       value       INTEGER NOT NULL CHECK (typeof(value) = 'integer'),
	       updated_at  TEXT NOT NULL
	   );`

	selectSettingSQL = `SELECT value FROM settings WHERE key = ?`

	upsertSettingSQL = `
    INSERT INTO settings (key, value, updated_at)
    VALUES (?, ?, datetime('now'))
    ON CONFLICT(key) DO UPDATE SET
        value = excluded.value,
        updated_at = excluded.updated_at`
)

// InitSchema creates the tables and records the current schema version.
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating settings database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT OR REPLACE INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Settings schema initialized")

	return nil
}

// GetSchemaVersion returns the newest recorded schema version, or 0 for an
// empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
