// Package cache provides the typed accessor over the local store for
// cached events and venues. It is the only surface application code
// touches; the store itself is an implementation detail behind it.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
	"github.com/matchlog/matchlog-go/internal/models"
	"github.com/matchlog/matchlog-go/internal/store"
)

// DefaultListLimit bounds ListByUser when the caller passes no limit.
const DefaultListLimit = 50

// Cache is the read/write accessor for cached events and venues.
type Cache struct {
	st *store.Store

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// New creates a Cache over an opened, migrated store.
func New(st *store.Store) *Cache {
	return &Cache{st: st}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (c *Cache) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := c.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := c.st.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := c.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (c *Cache) Close() error {
	var firstErr error
	c.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

const eventColumns = `id, event_type, event_date, venue_id, venue_name, venue_city, venue_country,
	user_id, notes, rating, companions, details, created_at, updated_at, sync_state, last_synced_at`

// Put upserts an event by id. Replaying a Put for an existing id replaces
// the row; duplicates are never an error.
func (c *Cache) Put(ctx context.Context, e *models.CachedEvent) error {
	if err := e.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid event", err)
	}

	now := time.Now().Unix()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.SyncState == "" {
		e.SyncState = models.SyncStateSynced
	}

	companions, err := json.Marshal(e.Companions)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode companions", err)
	}
	details, err := models.MarshalDetails(e.Details)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode details", err)
	}

	query := `
	INSERT INTO events (` + eventColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		event_type = excluded.event_type,
		event_date = excluded.event_date,
		venue_id = excluded.venue_id,
		venue_name = excluded.venue_name,
		venue_city = excluded.venue_city,
		venue_country = excluded.venue_country,
		user_id = excluded.user_id,
		notes = excluded.notes,
		rating = excluded.rating,
		companions = excluded.companions,
		details = excluded.details,
		updated_at = excluded.updated_at,
		sync_state = excluded.sync_state,
		last_synced_at = excluded.last_synced_at
	`
	_, err = c.st.ExecContext(ctx, query,
		e.ID, e.Type, e.Date, e.Venue.ID, e.Venue.Name, e.Venue.City, e.Venue.Country,
		e.UserID, e.Notes, e.Rating, string(companions), details,
		e.CreatedAt, e.UpdatedAt, e.SyncState, e.LastSyncedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to put event", store.Classify(err))
	}
	return nil
}

// Get retrieves an event by id. A missing id returns (nil, nil), never an
// error.
func (c *Cache) Get(ctx context.Context, id string) (*models.CachedEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	stmt, err := c.prepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get event", err)
	}

	e, err := scanEvent(stmt.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get event", store.Classify(err))
	}
	return e, nil
}

// ListByUser returns a user's events ordered by event date descending,
// truncated to limit (DefaultListLimit when limit is not positive).
func (c *Cache) ListByUser(ctx context.Context, userID string, limit int) ([]*models.CachedEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ? ORDER BY event_date DESC LIMIT ?`
	return c.queryEvents(ctx, query, userID, limit)
}

// ListByUserAndType returns a user's events of one type. Ordering follows
// store iteration order; callers needing a specific order sort themselves.
func (c *Cache) ListByUserAndType(ctx context.Context, userID string, t models.EventType) ([]*models.CachedEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ? AND event_type = ?`
	return c.queryEvents(ctx, query, userID, string(t))
}

func (c *Cache) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.CachedEvent, error) {
	stmt, err := c.prepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list events", err)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list events", store.Classify(err))
	}
	defer rows.Close()

	var events []*models.CachedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list events", store.Classify(err))
	}
	return events, nil
}

// Remove deletes an event by id. Removing an absent id is a no-op.
func (c *Cache) Remove(ctx context.Context, id string) error {
	_, err := c.st.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove event", store.Classify(err))
	}
	return nil
}

// ClearAll empties the events and venues collections for sign-out/reset.
// The sync queue is deliberately untouched: queued mutations must be
// drained or explicitly discarded, never dropped as a side effect.
func (c *Cache) ClearAll(ctx context.Context) error {
	tx, err := c.st.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear cache", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear events", store.Classify(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM venues`); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear venues", store.Classify(err))
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear cache", store.Classify(err))
	}
	return nil
}

// SetSyncState transitions an event's sync marker. Used by callers staging
// offline mutations (pending) and by the sync engine (synced/error).
func (c *Cache) SetSyncState(ctx context.Context, id string, state models.SyncState) error {
	query := `UPDATE events SET sync_state = ? WHERE id = ?`
	_, err := c.st.ExecContext(ctx, query, state, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update sync state", store.Classify(err))
	}
	return nil
}

// MarkSynced records a successful remote apply for an event.
func (c *Cache) MarkSynced(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE events SET sync_state = ?, last_synced_at = ? WHERE id = ?`
	_, err := c.st.ExecContext(ctx, query, models.SyncStateSynced, at.Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark event synced", store.Classify(err))
	}
	return nil
}

func scanEvent(row interface{ Scan(...interface{}) error }) (*models.CachedEvent, error) {
	var e models.CachedEvent
	var companions, details string
	err := row.Scan(
		&e.ID, &e.Type, &e.Date, &e.Venue.ID, &e.Venue.Name, &e.Venue.City, &e.Venue.Country,
		&e.UserID, &e.Notes, &e.Rating, &companions, &details,
		&e.CreatedAt, &e.UpdatedAt, &e.SyncState, &e.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(companions), &e.Companions); err != nil {
		return nil, fmt.Errorf("failed to decode companions: %w", err)
	}
	e.Details, err = models.UnmarshalDetails(details)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// =====================================================
// Venue Operations
// =====================================================

// PutVenue upserts a venue by id.
func (c *Cache) PutVenue(ctx context.Context, v *models.CachedVenue) error {
	if v.ID == "" {
		return apperrors.New(apperrors.ErrValidation, "venue id is required")
	}

	now := time.Now().Unix()
	if v.CreatedAt == 0 {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	query := `
	INSERT INTO venues (id, name, city, country, latitude, longitude, venue_type, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		city = excluded.city,
		country = excluded.country,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		venue_type = excluded.venue_type,
		updated_at = excluded.updated_at
	`
	_, err := c.st.ExecContext(ctx, query,
		v.ID, v.Name, v.City, v.Country, v.Latitude, v.Longitude, v.Type, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to put venue", store.Classify(err))
	}
	return nil
}

// GetVenue retrieves a venue by id, (nil, nil) on miss.
func (c *Cache) GetVenue(ctx context.Context, id string) (*models.CachedVenue, error) {
	query := `SELECT id, name, city, country, latitude, longitude, venue_type, created_at, updated_at
		FROM venues WHERE id = ?`
	stmt, err := c.prepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get venue", err)
	}

	var v models.CachedVenue
	err = stmt.QueryRowContext(ctx, id).Scan(
		&v.ID, &v.Name, &v.City, &v.Country, &v.Latitude, &v.Longitude, &v.Type,
		&v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get venue", store.Classify(err))
	}
	return &v, nil
}

// FindVenue looks a venue up by its name+city+country compound key,
// (nil, nil) when no such venue is cached. Used for existence checks before
// creating duplicates.
func (c *Cache) FindVenue(ctx context.Context, name, city, country string) (*models.CachedVenue, error) {
	query := `SELECT id, name, city, country, latitude, longitude, venue_type, created_at, updated_at
		FROM venues WHERE name = ? AND city = ? AND country = ?`

	var v models.CachedVenue
	err := c.st.QueryRowContext(ctx, query, name, city, country).Scan(
		&v.ID, &v.Name, &v.City, &v.Country, &v.Latitude, &v.Longitude, &v.Type,
		&v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to find venue", store.Classify(err))
	}
	return &v, nil
}

// SearchVenues returns all venues whose name or city contains the query,
// case-insensitive. No ranking: every substring match is returned.
func (c *Cache) SearchVenues(ctx context.Context, query string) ([]*models.CachedVenue, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	sqlQuery := `SELECT id, name, city, country, latitude, longitude, venue_type, created_at, updated_at
		FROM venues
		WHERE lower(name) LIKE ? ESCAPE '\' OR lower(city) LIKE ? ESCAPE '\'
		ORDER BY name`

	rows, err := c.st.QueryContext(ctx, sqlQuery, pattern, pattern)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to search venues", store.Classify(err))
	}
	defer rows.Close()

	var venues []*models.CachedVenue
	for rows.Next() {
		var v models.CachedVenue
		err := rows.Scan(&v.ID, &v.Name, &v.City, &v.Country, &v.Latitude, &v.Longitude,
			&v.Type, &v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan venue", err)
		}
		venues = append(venues, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to search venues", store.Classify(err))
	}
	return venues, nil
}

// RemoveVenue deletes a venue by id. Removing an absent id is a no-op.
func (c *Cache) RemoveVenue(ctx context.Context, id string) error {
	_, err := c.st.ExecContext(ctx, `DELETE FROM venues WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove venue", store.Classify(err))
	}
	return nil
}

// escapeLike escapes LIKE metacharacters in user-supplied search input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
