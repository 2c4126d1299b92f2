package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tablekit/ordersync/internal/errors"
)

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the store database under dataDir.
// The database is opened with:
// - WAL mode for concurrent reads during writes
// - a single writer connection (SQLite does not support multiple writers)
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "ordersync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrStorage, "failed to enable WAL mode", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrStorage, "failed to create kv table", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the value for key, or ErrNotFound.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, fmt.Sprintf("get %q", key), err)
	}
	return value, nil
}

// Put stores value under key, overwriting any previous value.
func (s *SQLiteStore) Put(key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return errors.New(errors.ErrInvalid, "empty key")
	}
	_, err := s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, fmt.Sprintf("put %q", key), err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return errors.Wrap(errors.ErrStorage, fmt.Sprintf("delete %q", key), err)
	}
	return nil
}

// List returns all key/value pairs whose key starts with prefix.
func (s *SQLiteStore) List(prefix string) (map[string][]byte, error) {
	rows, err := s.db.Query(
		"SELECT key, value FROM kv WHERE key >= ? AND key < ?",
		prefix, prefix+"\xff")
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, fmt.Sprintf("list %q", prefix), err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan row", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "iterate rows", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
