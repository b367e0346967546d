// Package logcache keeps fetched build logs in a local sqlite file.
//
// A build log is immutable once the build reaches a terminal state, so
// the cache never expires entries. Callers decide what is cacheable;
// the cache itself is a plain keyed store.
package logcache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

var schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS logs (
	build_id   INTEGER NOT NULL,
	chroot     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	body       BLOB NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (build_id, chroot, kind)
);
`

// Kind distinguishes the logs one build can produce.
type Kind string

const (
	// KindBuild is the chroot build log.
	KindBuild Kind = "build"
	// KindSRPM is the source package build log.
	KindSRPM Kind = "srpm"
)

// Cache is a sqlite-backed log store.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at path. The parent
// directory is created if it does not exist.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) migrate() error {
	var tableCount int
	err := c.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		if _, err := c.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := c.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	if err := c.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Get returns the cached log body, or ok=false on a miss. One farm
// build can cover several chroots with distinct logs, so the chroot is
// part of the key.
func (c *Cache) Get(buildID int64, chroot string, kind Kind) (string, bool, error) {
	var body []byte
	err := c.db.QueryRow(
		"SELECT body FROM logs WHERE build_id = ? AND chroot = ? AND kind = ?",
		buildID, chroot, kind,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get log: %w", err)
	}
	return string(body), true, nil
}

// Put stores the log body, replacing any previous entry for the key.
func (c *Cache) Put(buildID int64, chroot string, kind Kind, body string) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO logs(build_id, chroot, kind, body, fetched_at) VALUES(?, ?, ?, ?, ?)",
		buildID, chroot, kind, []byte(body), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put log: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
