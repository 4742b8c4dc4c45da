// Package cache tests for the event and venue accessor.
package cache

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/matchlog/matchlog-go/internal/models"
	"github.com/matchlog/matchlog-go/internal/store"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "matchlog_cache_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	st, err := store.Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	c := New(st)
	t.Cleanup(func() { c.Close() })
	return c
}

func testEvent(id, userID string, typ models.EventType, date string) *models.CachedEvent {
	return &models.CachedEvent{
		ID:     models.UUID(id),
		Type:   typ,
		Date:   date,
		UserID: userID,
		Venue: models.VenueRef{
			ID:      "v1",
			Name:    "Wembley Stadium",
			City:    "London",
			Country: "England",
		},
		Notes:      "good seats",
		Rating:     4,
		Companions: []string{"Alex", "Sam"},
		Details: &models.SportDetails{
			Type: models.EventSoccer,
			Soccer: &models.SoccerDetails{
				HomeTeam:  "England",
				AwayTeam:  "Germany",
				HomeScore: 2,
				AwayScore: 0,
			},
		},
	}
}

// TestPutGet verifies Get immediately after Put returns a deep-equal event.
func TestPutGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	e := testEvent("evt-1", "user-1", models.EventSoccer, "2026-05-09T19:30:00Z")
	if err := c.Put(ctx, e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := c.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing event")
	}

	if !reflect.DeepEqual(got, e) {
		t.Errorf("round trip mismatch:\n got: %+v\nwant: %+v", got, e)
	}
}

// TestGetMissing verifies missing ids return nil without an error.
func TestGetMissing(t *testing.T) {
	c := newTestCache(t)

	got, err := c.Get(context.Background(), "no-such-event")
	if err != nil {
		t.Fatalf("Get for missing id should not error: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil, got %+v", got)
	}
}

// TestPutReplace verifies upsert semantics: a second Put with the same id
// replaces the row and never errors.
func TestPutReplace(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	e := testEvent("evt-1", "user-1", models.EventSoccer, "2026-05-09T19:30:00Z")
	if err := c.Put(ctx, e); err != nil {
		t.Fatalf("First Put failed: %v", err)
	}

	e.Notes = "moved to the upper tier"
	e.Rating = 3
	if err := c.Put(ctx, e); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	got, err := c.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Notes != "moved to the upper tier" || got.Rating != 3 {
		t.Errorf("Replace did not take effect: %+v", got)
	}
}

// TestPutInvalid verifies validation failures are surfaced.
func TestPutInvalid(t *testing.T) {
	c := newTestCache(t)

	e := testEvent("evt-1", "user-1", models.EventSoccer, "2026-05-09T19:30:00Z")
	e.Rating = 9
	if err := c.Put(context.Background(), e); err == nil {
		t.Error("Put should reject rating > 5")
	}
}

// TestListByUser verifies date-descending order, the limit, and the default.
func TestListByUser(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	dates := []string{
		"2026-01-10T19:00:00Z",
		"2026-03-22T15:00:00Z",
		"2026-02-14T20:00:00Z",
	}
	for i, d := range dates {
		e := testEvent(string(rune('a'+i))+"-evt", "user-1", models.EventSoccer, d)
		if err := c.Put(ctx, e); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	// Another user's event must not leak in.
	other := testEvent("other-evt", "user-2", models.EventTennis, "2026-04-01T12:00:00Z")
	other.Details = nil
	if err := c.Put(ctx, other); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	events, err := c.ListByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].Date < events[i].Date {
			t.Errorf("Events not in date-descending order: %s before %s",
				events[i-1].Date, events[i].Date)
		}
	}

	limited, err := c.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListByUser with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 events with limit, got %d", len(limited))
	}
	if limited[0].Date != "2026-03-22T15:00:00Z" {
		t.Errorf("Expected newest event first, got %s", limited[0].Date)
	}
}

// TestListByUserAndType verifies the exact-match type filter.
func TestListByUserAndType(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	soccer := testEvent("evt-soccer", "user-1", models.EventSoccer, "2026-05-09T19:30:00Z")
	if err := c.Put(ctx, soccer); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	concert := testEvent("evt-concert", "user-1", models.EventConcert, "2026-06-01T20:00:00Z")
	concert.Details = nil
	if err := c.Put(ctx, concert); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	events, err := c.ListByUserAndType(ctx, "user-1", models.EventConcert)
	if err != nil {
		t.Fatalf("ListByUserAndType failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt-concert" {
		t.Errorf("Expected only the concert, got %+v", events)
	}
}

// TestRemoveIdempotent verifies removing twice does not error.
func TestRemoveIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	e := testEvent("evt-1", "user-1", models.EventSoccer, "2026-05-09T19:30:00Z")
	if err := c.Put(ctx, e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := c.Remove(ctx, "evt-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := c.Remove(ctx, "evt-1"); err != nil {
		t.Errorf("Second Remove should be a no-op: %v", err)
	}

	got, err := c.Get(ctx, "evt-1")
	if err != nil || got != nil {
		t.Errorf("Event should be gone, got %+v, %v", got, err)
	}
}

// TestClearAll verifies events and venues are emptied.
func TestClearAll(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, testEvent("evt-1", "user-1", models.EventSoccer, "2026-05-09T19:30:00Z")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.PutVenue(ctx, &models.CachedVenue{ID: "v1", Name: "Wembley Stadium", City: "London", Country: "England"}); err != nil {
		t.Fatalf("PutVenue failed: %v", err)
	}

	if err := c.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	if got, _ := c.Get(ctx, "evt-1"); got != nil {
		t.Error("Events should be empty after ClearAll")
	}
	if got, _ := c.GetVenue(ctx, "v1"); got != nil {
		t.Error("Venues should be empty after ClearAll")
	}
}

// TestMarkSynced verifies the sync engine's state transitions on events.
func TestMarkSynced(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	e := testEvent("evt-1", "user-1", models.EventSoccer, "2026-05-09T19:30:00Z")
	e.SyncState = models.SyncStatePending
	if err := c.Put(ctx, e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	at := time.Now()
	if err := c.MarkSynced(ctx, "evt-1", at); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	got, err := c.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SyncState != models.SyncStateSynced {
		t.Errorf("Expected synced, got %s", got.SyncState)
	}
	if got.LastSyncedAt != at.Unix() {
		t.Errorf("Expected last_synced_at %d, got %d", at.Unix(), got.LastSyncedAt)
	}

	if err := c.SetSyncState(ctx, "evt-1", models.SyncStateError); err != nil {
		t.Fatalf("SetSyncState failed: %v", err)
	}
	got, _ = c.Get(ctx, "evt-1")
	if got.SyncState != models.SyncStateError {
		t.Errorf("Expected error state, got %s", got.SyncState)
	}
}

// TestVenueRoundTrip verifies venue upsert, lookup and compound-key find.
func TestVenueRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	v := &models.CachedVenue{
		ID:        "v1",
		Name:      "Madison Square Garden",
		City:      "New York",
		Country:   "USA",
		Latitude:  40.7505,
		Longitude: -73.9934,
		Type:      models.VenueArena,
	}
	if err := c.PutVenue(ctx, v); err != nil {
		t.Fatalf("PutVenue failed: %v", err)
	}

	got, err := c.GetVenue(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVenue failed: %v", err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("round trip mismatch:\n got: %+v\nwant: %+v", got, v)
	}

	found, err := c.FindVenue(ctx, "Madison Square Garden", "New York", "USA")
	if err != nil {
		t.Fatalf("FindVenue failed: %v", err)
	}
	if found == nil || found.ID != "v1" {
		t.Errorf("FindVenue should locate the venue, got %+v", found)
	}

	missing, err := c.FindVenue(ctx, "Camp Nou", "Barcelona", "Spain")
	if err != nil || missing != nil {
		t.Errorf("FindVenue for absent venue should be (nil, nil), got %+v, %v", missing, err)
	}
}

// TestSearchVenues verifies case-insensitive substring search over name
// and city.
func TestSearchVenues(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	venues := []*models.CachedVenue{
		{ID: "v1", Name: "Wembley Stadium", City: "London", Country: "England", Type: models.VenueStadium},
		{ID: "v2", Name: "O2 Arena", City: "London", Country: "England", Type: models.VenueArena},
		{ID: "v3", Name: "Accor Arena", City: "Paris", Country: "France", Type: models.VenueArena},
	}
	for _, v := range venues {
		if err := c.PutVenue(ctx, v); err != nil {
			t.Fatalf("PutVenue failed: %v", err)
		}
	}

	got, err := c.SearchVenues(ctx, "wemb")
	if err != nil {
		t.Fatalf("SearchVenues failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "v1" {
		t.Errorf("Expected [v1], got %+v", got)
	}

	got, err = c.SearchVenues(ctx, "LONDON")
	if err != nil {
		t.Fatalf("SearchVenues failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 London venues, got %d", len(got))
	}

	got, err = c.SearchVenues(ctx, "madrid")
	if err != nil {
		t.Fatalf("SearchVenues failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no matches, got %+v", got)
	}

	// LIKE metacharacters in input must be treated literally.
	got, err = c.SearchVenues(ctx, "%")
	if err != nil {
		t.Fatalf("SearchVenues failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Literal %% should match nothing, got %+v", got)
	}
}
