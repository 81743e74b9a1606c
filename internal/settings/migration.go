package settings

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
)

const backupDirName = "backups"

func backupDatabase(db *sql.DB, dbPath string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	backupDir := filepath.Join(filepath.Dir(dbPath), backupDirName)
	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  backupDir,
			Error: err.Error(),
		})
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(backupDir,
		fmt.Sprintf("settings_v%d_%s.db", version, timestamp))

	// VACUUM INTO requires no active transaction
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", backupPath).
		Int("version", version).
		Msg("Settings backup created")

	return backupPath, nil
}

// ValidateAndUpdateSchema brings the database to SchemaVersion. An older or
// newer schema is backed up and recreated, carrying the stored values over.
func ValidateAndUpdateSchema(db *sql.DB, dbPath string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	log.Debug().
		Int("version", version).
		Bool("init_db", version == 0).
		Msg("Current settings schema version")

	if version == SchemaVersion {
		return nil
	}

	if version == 0 {
		return InitSchema(db, log)
	}

	if _, err := backupDatabase(db, dbPath, version, log); err != nil {
		return err
	}

	values := carryOver(db, log)

	if err := dropTables(db, log); err != nil {
		return err
	}
	if err := InitSchema(db, log); err != nil {
		return err
	}

	for key, value := range values {
		if _, err := db.Exec(upsertSettingSQL, key, value); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Key   string
				Error string
			}{
				Phase: "restore_value",
				Key:   key,
				Error: err.Error(),
			})
		}
	}

	log.Info().
		Int("from", version).
		Int("to", SchemaVersion).
		Int("values", len(values)).
		Msg("Settings schema migrated")

	return nil
}

// carryOver reads whatever key/value pairs an older schema holds. Values
// that cannot be read are dropped; the backup keeps them.
func carryOver(db *sql.DB, log logger.Logger) map[string]int64 {
	values := make(map[string]int64)

	rows, err := db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		log.Debug().Err(err).Msg("No settings to carry over")
		return values
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value int64
		)
		if err := rows.Scan(&key, &value); err != nil {
			log.Debug().Err(err).Msg("Skipping unreadable setting")
			continue
		}
		values[key] = value
	}

	return values
}

func dropTables(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback drop tables")
			}
		}
	}()

	for _, table := range []string{"settings", "schema_versions"} {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "drop_table",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	return nil
}
