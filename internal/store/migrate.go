// Package store provides database schema migration management.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
)

// migration is one versioned, additive schema step. Steps are embedded in
// the binary so the store never depends on files shipped next to it.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered schema history. Only additive steps are
// allowed: fields are never removed, existing rows are always preserved.
var migrations = []migration{
	{
		Version:     1,
		Description: "initial_schema",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	event_type    TEXT NOT NULL,
	event_date    TEXT NOT NULL,
	venue_id      TEXT NOT NULL DEFAULT '',
	venue_name    TEXT NOT NULL DEFAULT '',
	venue_city    TEXT NOT NULL DEFAULT '',
	venue_country TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL,
	notes         TEXT NOT NULL DEFAULT '',
	rating        INTEGER NOT NULL DEFAULT 0,
	companions    TEXT NOT NULL DEFAULT '[]',
	details       TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	sync_state    TEXT NOT NULL DEFAULT 'synced'
);

CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_date ON events(event_date);
CREATE INDEX IF NOT EXISTS idx_events_user_type ON events(user_id, event_type);
CREATE INDEX IF NOT EXISTS idx_events_user_date ON events(user_id, event_date);

CREATE TABLE IF NOT EXISTS venues (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	city       TEXT NOT NULL,
	country    TEXT NOT NULL,
	latitude   REAL NOT NULL DEFAULT 0,
	longitude  REAL NOT NULL DEFAULT 0,
	venue_type TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_venues_name_city_country
	ON venues(name, city, country);

CREATE TABLE IF NOT EXISTS sync_queue (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	operation   TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
);
`,
	},
	{
		Version:     2,
		Description: "events_last_synced_at",
		SQL:         `ALTER TABLE events ADD COLUMN last_synced_at INTEGER NOT NULL DEFAULT 0;`,
	},
}

// SchemaVersion is the version the binary expects after migration.
func SchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

// Migrate brings the database schema up to the current version. Opening a
// database written by a newer binary fails with ErrSchemaNewer; downgrades
// are not supported.
func (s *Store) Migrate() error {
	if err := s.initMigrations(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to initialize migrations table", err)
	}

	current, err := s.CurrentVersion()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
	}

	latest := SchemaVersion()
	if current > latest {
		return apperrors.New(apperrors.ErrSchemaNewer,
			fmt.Sprintf("database schema version %d is newer than supported version %d", current, latest))
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := s.applyMigration(mig); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("failed to apply migration V%d", mig.Version), Classify(err))
		}
	}

	return nil
}

// CurrentVersion returns the highest applied schema version, 0 for a fresh
// database.
func (s *Store) CurrentVersion() (int, error) {
	var version int
	err := s.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// initMigrations creates the schema_migrations table if it doesn't exist.
func (s *Store) initMigrations() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := s.Exec(query)
	return err
}

// applyMigration runs one migration step inside a transaction and records
// it with a checksum of the applied SQL.
func (s *Store) applyMigration(mig migration) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	hash := sha256.Sum256([]byte(mig.SQL))
	checksum := hex.EncodeToString(hash[:])
	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.Version, time.Now().Unix(), mig.Description, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
