// Package store is the SQLite persistence layer for activities, their
// per-tick sensor data, and their lap summaries.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const currentVersion = 1

type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory() (*Store, error) {
	return New(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ClearDatabase deletes every row from every table.
func (s *Store) ClearDatabase() error {
	for _, table := range []string{"activity_laps", "activity_data", "activities"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	_, err = s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	return err
}

func (s *Store) migrateV1() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS activities (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		status      TEXT NOT NULL,
		start_time  TEXT NOT NULL,
		end_time    TEXT,
		notes       TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS activity_data (
		timestamp   INTEGER PRIMARY KEY,
		activity_id TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
		heart_rate  INTEGER,
		speed       REAL,
		latitude    REAL,
		longitude   REAL
	);

	CREATE INDEX IF NOT EXISTS idx_data_activity ON activity_data(activity_id);

	CREATE TABLE IF NOT EXISTS activity_laps (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		activity_id    TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
		number         INTEGER NOT NULL,
		start_time     INTEGER NOT NULL,
		end_time       INTEGER NOT NULL,
		duration_ms    INTEGER NOT NULL,
		distance       REAL NOT NULL DEFAULT 0,
		heart_rate_min REAL NOT NULL DEFAULT 0,
		heart_rate_avg REAL NOT NULL DEFAULT 0,
		heart_rate_max REAL NOT NULL DEFAULT 0,
		speed_min      REAL NOT NULL DEFAULT 0,
		speed_avg      REAL NOT NULL DEFAULT 0,
		speed_max      REAL NOT NULL DEFAULT 0,
		UNIQUE(activity_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_laps_activity ON activity_laps(activity_id);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// DefaultDBPath returns ~/.config/happyrunner/happyrunner.db
func DefaultDBPath() (string, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, "happyrunner", "happyrunner.db"), nil
}
