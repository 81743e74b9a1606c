package settings

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultDirPerm = 0o755

	// LimitKey holds the battery charge limit percentage.
	LimitKey = "battery_charge_limit"
)

var _ charge.LimitStore = (*Store)(nil)

// Store persists settings in SQLite. Writes from this process notify
// subscribers immediately; writes from other processes are picked up by
// Watch.
type Store struct {
	db     *sql.DB
	logger logger.Logger

	mu          sync.Mutex
	known       int
	subscribers []func(int)
}

func Open(dbPath string, log logger.Logger) (*Store, error) {
	errFactory := errors.New()

	if dbPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  dbPath,
			Error: err.Error(),
		})
	}

	dsn := dbPath + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, dbPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	s := &Store{
		db:     db,
		logger: log,
	}
	s.known = s.GetLimit()

	log.Info().
		Str("path", dbPath).
		Int("schema_version", SchemaVersion).
		Int("charge_limit", s.known).
		Msg("Settings store initialized")

	return s, nil
}

// GetLimit returns the stored charge limit, or charge.NoLimit when none is
// stored or it cannot be read.
func (s *Store) GetLimit() int {
	limit, err := s.readLimit()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read charge limit, charging unrestricted")
		return charge.NoLimit
	}

	return limit
}

func (s *Store) readLimit() (int, error) {
	var value int64
	err := s.db.QueryRow(selectSettingSQL, LimitKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return charge.NoLimit, nil
	}
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}

	limit := int(value)
	if !charge.ValidLimit(limit) {
		return 0, errors.New().WithData(errors.ErrInvalidLimit, limit)
	}

	return limit, nil
}

// SetLimit stores limit and notifies subscribers when it changed.
func (s *Store) SetLimit(limit int) error {
	errFactory := errors.New()

	if !charge.ValidLimit(limit) {
		return errFactory.WithData(errors.ErrInvalidLimit, limit)
	}

	if _, err := s.db.Exec(upsertSettingSQL, LimitKey, limit); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	s.logger.Debug().Int("charge_limit", limit).Msg("Charge limit stored")
	s.update(limit)

	return nil
}

// OnChange registers fn for limit changes. fn runs on the goroutine that
// observed the change.
func (s *Store) OnChange(fn func(int)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, fn)
}

// Watch polls the database until ctx is done so that writes made by other
// processes reach the subscribers. A failed or invalid read releases the
// limit, as GetLimit does.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limit, err := s.readLimit()
			if err != nil {
				if msg := err.Error(); msg != lastErr {
					s.logger.Warn().Err(err).Msg("Failed to read charge limit, charging unrestricted")
					lastErr = msg
				}
				limit = charge.NoLimit
			} else {
				lastErr = ""
			}
			s.update(limit)
		}
	}
}

func (s *Store) update(limit int) {
	s.mu.Lock()
	if limit == s.known {
		s.mu.Unlock()
		return
	}
	s.known = limit
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	s.logger.Info().Int("charge_limit", limit).Msg("Charge limit changed")

	for _, fn := range subscribers {
		fn(limit)
	}
}

func (s *Store) Close() error {
	errFactory := errors.New()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to checkpoint settings WAL")
	}

	if err := s.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	return nil
}
