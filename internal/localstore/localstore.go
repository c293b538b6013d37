// Package localstore is the editor's local persistent key/value storage. It
// holds the store credential and unsaved drafts and survives restarts.
package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
)

// Well-known keys.
const (
	KeyToken    = "gh_token"
	DraftPrefix = "draft_"
)

// ErrLocked is returned when another process owns the data file.
var ErrLocked = errors.New("localstore: data file is in use by another inkwell process")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB holding one key/value table.
type DB struct {
	conn     *sql.DB
	lock     *flock.Flock
	readOnly bool
}

// Open opens (or creates) the data file and takes the ownership lock next
// to it. Only one process may hold a writable DB at a time.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("localstore: mkdir: %w", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("localstore: lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	conn, err := open(path + "?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("localstore: apply schema: %w", err)
	}
	return &DB{conn: conn, lock: lock}, nil
}

// OpenReadOnly opens an existing data file without taking the lock, for
// commands that only need to read the credential.
func OpenReadOnly(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("localstore: %w", err)
	}
	conn, err := open(path + "?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	return &DB{conn: conn, readOnly: true}, nil
}

func open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+dsn)
	if err != nil {
		return nil, fmt.Errorf("localstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("localstore: ping: %w", err)
	}
	return conn, nil
}

// Close closes the database and releases the lock.
func (db *DB) Close() error {
	err := db.conn.Close()
	if db.lock != nil && db.lock.Locked() {
		if uerr := db.lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("localstore: unlock: %w", uerr)
		}
	}
	return err
}

// Get returns the value of key and whether it was present.
func (db *DB) Get(key string) (string, bool, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localstore: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key.
func (db *DB) Set(key, value string) error {
	if db.readOnly {
		return fmt.Errorf("localstore: set %s: read-only", key)
	}
	_, err := db.conn.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("localstore: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(key string) error {
	if db.readOnly {
		return fmt.Errorf("localstore: delete %s: read-only", key)
	}
	if _, err := db.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("localstore: delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys starting with prefix, sorted.
func (db *DB) Keys(prefix string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("localstore: keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("localstore: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DraftKey returns the draft key for slug, or for a new post when slug is empty.
func DraftKey(slug string) string {
	if slug == "" {
		return DraftPrefix + "new"
	}
	return DraftPrefix + slug
}
