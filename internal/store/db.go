// Package store records training runs and their per-epoch results in a
// SQLite database.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DB wraps a connection to the run history database.
type DB struct {
	*sql.DB
	Path string
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}
	return open(path)
}

// OpenMemory opens an in-memory database.
func OpenMemory() (*DB, error) {
	return open(":memory:")
}

func open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite")
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return errors.Wrapf(err, "pragma %q", p)
		}
	}
	return nil
}
