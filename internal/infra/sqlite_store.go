package infra

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// sqliteSchemaVersion is the latest schema version. Bump when adding migrations.
const sqliteSchemaVersion = 1

// SQLiteStore implements domain.PolicyStore on a WAL-mode SQLite database,
// so the engine and CLI can hold it open concurrently.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and migrates it.
func OpenSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy store: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0600)

	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func migrateSQLite(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	// 0 -> 1: initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS policies (
		  package_id         TEXT PRIMARY KEY,
		  position           INTEGER NOT NULL,
		  display_name       TEXT NOT NULL DEFAULT '',
		  mode               TEXT NOT NULL,
		  time_limit_seconds INTEGER NOT NULL DEFAULT 0,
		  max_opens          INTEGER NOT NULL DEFAULT 0,
		  current_opens      INTEGER NOT NULL DEFAULT 0,
		  password           TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS launch_markers (
		  package_id TEXT PRIMARY KEY,
		  at_ms      INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS meta (
		  key   TEXT PRIMARY KEY,
		  value TEXT NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
			return err
		}
	}

	return nil
}

// Load returns all well-formed policies in stored order.
func (s *SQLiteStore) Load() ([]domain.AppPolicy, error) {
	rows, err := s.db.Query(`
		SELECT package_id, display_name, mode, time_limit_seconds, max_opens, current_opens, password
		FROM policies ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []domain.AppPolicy
	for rows.Next() {
		var rec policyRecord
		if err := rows.Scan(&rec.PackageID, &rec.DisplayName, &rec.Mode,
			&rec.TimeLimitSeconds, &rec.MaxOpens, &rec.CurrentOpens, &rec.Password); err != nil {
			s.logger.Warn("skipping malformed policy row", zap.Error(err))
			continue
		}
		p, err := fromRecord(rec, s.logger)
		if err != nil {
			s.logger.Warn("skipping invalid policy row", zap.String("package", rec.PackageID), zap.Error(err))
			continue
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// SaveAll replaces the policy collection.
func (s *SQLiteStore) SaveAll(policies []domain.AppPolicy) error {
	if policies == nil {
		policies = []domain.AppPolicy{}
	}
	return s.Commit(domain.Commit{Policies: policies})
}

// LastResetTime returns the last daily reset, zero if never.
func (s *SQLiteStore) LastResetTime() (time.Time, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, keyLastResetTime).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode %s: %w", keyLastResetTime, err)
	}
	return fromMillis(ms), nil
}

// SetLastResetTime stores the last daily reset.
func (s *SQLiteStore) SetLastResetTime(t time.Time) error {
	return s.Commit(domain.Commit{LastReset: &t})
}

// LastLaunchEvent returns the launch marker for a package.
func (s *SQLiteStore) LastLaunchEvent(packageID string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRow(`SELECT at_ms FROM launch_markers WHERE package_id = ?`, packageID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return fromMillis(ms), err
}

// SetLastLaunchEvent stores the launch marker for a package.
func (s *SQLiteStore) SetLastLaunchEvent(packageID string, t time.Time) error {
	return s.Commit(domain.Commit{LaunchMarkers: map[string]time.Time{packageID: t}})
}

// Commit applies policies and markers in one transaction.
func (s *SQLiteStore) Commit(c domain.Commit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if c.Policies != nil {
		if _, err := tx.Exec(`DELETE FROM policies`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO policies
			  (package_id, position, display_name, mode, time_limit_seconds, max_opens, current_opens, password)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, p := range c.Policies {
			rec := toRecord(p)
			if _, err := stmt.Exec(rec.PackageID, i, rec.DisplayName, rec.Mode,
				rec.TimeLimitSeconds, rec.MaxOpens, rec.CurrentOpens, rec.Password); err != nil {
				return err
			}
		}
	}

	if c.LastReset != nil {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			keyLastResetTime, strconv.FormatInt(toMillis(*c.LastReset), 10)); err != nil {
			return err
		}
	}

	for pkg, t := range c.LaunchMarkers {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO launch_markers (package_id, at_ms) VALUES (?, ?)`,
			pkg, toMillis(t)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

var _ domain.PolicyStore = (*SQLiteStore)(nil)
