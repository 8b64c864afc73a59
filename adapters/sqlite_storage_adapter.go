package adapters

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteStorageAdapter persists values in a single-table SQLite
// database. Suited to long-lived host processes where the JSON file
// adapter would rewrite the whole file on every Set.
type SQLiteStorageAdapter struct {
	db *sql.DB
}

var _ StorageAdapter = (*SQLiteStorageAdapter)(nil)

// NewSQLiteStorageAdapter opens (or creates) the database at
// databasePath. Close must be called when the adapter is no longer
// needed.
func NewSQLiteStorageAdapter(databasePath string) (*SQLiteStorageAdapter, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS kv(
	  key   TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &SQLiteStorageAdapter{db: db}, nil
}

// Get returns the value stored under key, or "" if absent.
func (s *SQLiteStorageAdapter) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *SQLiteStorageAdapter) Set(key, value string) error {
	_, err := s.db.Exec(`
	INSERT INTO kv(key, value) VALUES(?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *SQLiteStorageAdapter) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStorageAdapter) Close() error {
	return s.db.Close()
}
