// Package store provides the durable local store backing the offline cache
// and sync queue.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
)

// DBFileName is the SQLite file created under the data directory.
const DBFileName = "matchlog.db"

// Store wraps the sql.DB holding the cached events, venues and sync queue.
// A Store is constructed explicitly by the composition root and injected
// into the cache and queue; there is no package-level instance.
type Store struct {
	*sql.DB
}

// Open opens the local SQLite database with:
// - WAL mode for concurrent reads alongside the single writer
// - foreign key constraints enabled
// - a busy timeout so concurrent callers queue instead of failing
//
// Open failures are fatal to everything built on the store and are
// returned as typed errors, never swallowed.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open database", err)
	}

	// SQLite supports a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to apply %s", strings.TrimSuffix(p, ";")), Classify(err))
		}
	}

	return &Store{db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Classify maps raw driver errors to the store error taxonomy. Disk-full
// conditions become ErrQuotaExceeded so callers can tell exhaustion apart
// from corruption or plain I/O failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database or disk is full"),
		strings.Contains(msg, "SQLITE_FULL"):
		return apperrors.Wrap(apperrors.ErrQuotaExceeded, "local storage quota exceeded", err)
	case strings.Contains(msg, "file is not a database"),
		strings.Contains(msg, "database disk image is malformed"):
		return apperrors.Wrap(apperrors.ErrDatabase, "database corrupted", err)
	default:
		return err
	}
}
