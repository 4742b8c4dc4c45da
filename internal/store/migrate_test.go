// Package store tests for schema migration management.
package store

import (
	"testing"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
)

// TestMigrateFresh verifies a fresh database reaches the current version
// with all three collections in place.
func TestMigrateFresh(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	version, err := s.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != SchemaVersion() {
		t.Errorf("Expected version %d, got %d", SchemaVersion(), version)
	}

	for _, table := range []string{"events", "venues", "sync_queue"} {
		var name string
		err := s.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not created: %v", table, err)
		}
	}
}

// TestMigrateIdempotent verifies running Migrate twice is a no-op.
func TestMigrateIdempotent(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.Migrate(); err != nil {
		t.Fatalf("First Migrate() failed: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("Second Migrate() failed: %v", err)
	}

	var count int
	if err := s.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("Expected %d migration records, got %d", len(migrations), count)
	}
}

// TestMigratePreservesRows verifies an upgrade step keeps existing data.
func TestMigratePreservesRows(t *testing.T) {
	s, tmpDir := openTestStore(t)

	// Apply only V1, insert a row, then run the remaining steps.
	if err := s.initMigrations(); err != nil {
		t.Fatalf("initMigrations failed: %v", err)
	}
	if err := s.applyMigration(migrations[0]); err != nil {
		t.Fatalf("applyMigration(V1) failed: %v", err)
	}
	_, err := s.Exec(`INSERT INTO events (id, event_type, event_date, user_id, created_at, updated_at)
		VALUES ('evt-1', 'SOCCER', '2026-05-09T19:30:00Z', 'user-1', 100, 100)`)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	var id string
	var lastSynced int64
	err = s.QueryRow("SELECT id, last_synced_at FROM events WHERE id = 'evt-1'").Scan(&id, &lastSynced)
	if err != nil {
		t.Fatalf("Row lost during migration: %v", err)
	}
	if lastSynced != 0 {
		t.Errorf("New column should default to 0, got %d", lastSynced)
	}

	// Version survives a reopen.
	s.Close()
	reopened, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	version, err := reopened.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != SchemaVersion() {
		t.Errorf("Expected version %d after reopen, got %d", SchemaVersion(), version)
	}
}

// TestMigrateNewerSchema verifies opening a database written by a newer
// binary is rejected.
func TestMigrateNewerSchema(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	checksum := make([]byte, 64)
	for i := range checksum {
		checksum[i] = 'a'
	}
	_, err := s.Exec(`INSERT INTO schema_migrations (version, applied_at, description, checksum)
		VALUES (?, ?, 'from_the_future', ?)`, SchemaVersion()+1, 1, string(checksum))
	if err != nil {
		t.Fatalf("Failed to fake newer version: %v", err)
	}

	err = s.Migrate()
	if err == nil {
		t.Fatal("Migrate() should reject a newer schema version")
	}
	if !apperrors.Is(err, apperrors.ErrSchemaNewer) {
		t.Errorf("Expected ErrSchemaNewer, got: %v", err)
	}
}
