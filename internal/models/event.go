// Package models provides data model definitions for the MatchLog offline core.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies what kind of event was attended.
type EventType string

const (
	EventSoccer     EventType = "SOCCER"
	EventBasketball EventType = "BASKETBALL"
	EventBaseball   EventType = "BASEBALL"
	EventTennis     EventType = "TENNIS"
	EventConcert    EventType = "CONCERT"
)

// ParseEventType validates and converts a string to an EventType.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventSoccer, EventBasketball, EventBaseball, EventTennis, EventConcert:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type: %q", s)
}

// SyncState tracks whether a cached event's last mutation reached the backend.
type SyncState string

const (
	SyncStateSynced  SyncState = "synced"
	SyncStatePending SyncState = "pending"
	SyncStateError   SyncState = "error"
)

// VenueRef is the denormalized venue reference carried on a cached event.
type VenueRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// CachedEvent is the local mirror of a server-side event.
type CachedEvent struct {
	ID           UUID            `db:"id" json:"id"`
	Type         EventType       `db:"event_type" json:"type"`
	Date         string          `db:"event_date" json:"date"` // ISO-8601
	Venue        VenueRef        `json:"venue"`
	UserID       string          `db:"user_id" json:"user_id"`
	Notes        string          `db:"notes" json:"notes,omitempty"`
	Rating       int             `db:"rating" json:"rating,omitempty"` // 1-5, 0 = unrated
	Companions   []string        `json:"companions,omitempty"`
	Details      *SportDetails   `json:"details,omitempty"`
	CreatedAt    int64           `db:"created_at" json:"created_at"`
	UpdatedAt    int64           `db:"updated_at" json:"updated_at"`
	SyncState    SyncState       `db:"sync_state" json:"sync_state"`
	LastSyncedAt int64           `db:"last_synced_at" json:"last_synced_at,omitempty"`
}

// TableName returns the table name for CachedEvent.
func (CachedEvent) TableName() string {
	return "events"
}

// Validate checks field constraints before the event is persisted.
func (e *CachedEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if _, err := ParseEventType(string(e.Type)); err != nil {
		return err
	}
	if _, err := time.Parse(time.RFC3339, e.Date); err != nil {
		return fmt.Errorf("event date must be ISO-8601: %w", err)
	}
	if e.Rating < 0 || e.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", e.Rating)
	}
	if e.Details != nil && e.Details.Type != e.Type {
		return fmt.Errorf("details type %s does not match event type %s", e.Details.Type, e.Type)
	}
	return nil
}

// Touch updates the UpdatedAt timestamp.
func (e *CachedEvent) Touch() {
	e.UpdatedAt = time.Now().Unix()
}

// CreatedAtTime returns CreatedAt as time.Time.
func (e *CachedEvent) CreatedAtTime() time.Time {
	return time.Unix(e.CreatedAt, 0)
}

// SportDetails is the sport-specific payload carried by a cached event.
// Exactly one variant field is set, matching Type. It replaces the loose
// per-sport map the server API uses with a tagged union.
type SportDetails struct {
	Type       EventType          `json:"type"`
	Soccer     *SoccerDetails     `json:"soccer,omitempty"`
	Basketball *BasketballDetails `json:"basketball,omitempty"`
	Baseball   *BaseballDetails   `json:"baseball,omitempty"`
	Tennis     *TennisDetails     `json:"tennis,omitempty"`
	Concert    *ConcertDetails    `json:"concert,omitempty"`
}

// SoccerDetails holds soccer-specific fields.
type SoccerDetails struct {
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	League    string `json:"league,omitempty"`
}

// BasketballDetails holds basketball-specific fields.
type BasketballDetails struct {
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	Overtime  bool   `json:"overtime,omitempty"`
}

// BaseballDetails holds baseball-specific fields.
type BaseballDetails struct {
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	Innings   int    `json:"innings,omitempty"`
}

// TennisDetails holds tennis-specific fields.
type TennisDetails struct {
	PlayerOne  string `json:"player_one"`
	PlayerTwo  string `json:"player_two"`
	SetScores  string `json:"set_scores,omitempty"`
	Tournament string `json:"tournament,omitempty"`
}

// ConcertDetails holds concert-specific fields.
type ConcertDetails struct {
	Artist   string   `json:"artist"`
	Tour     string   `json:"tour,omitempty"`
	Setlist  []string `json:"setlist,omitempty"`
	OpeningActs []string `json:"opening_acts,omitempty"`
}

// MarshalDetails serializes the details union for storage. Returns an empty
// string when no details are set.
func MarshalDetails(d *SportDetails) (string, error) {
	if d == nil {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sport details: %w", err)
	}
	return string(b), nil
}

// UnmarshalDetails deserializes the details union from storage.
func UnmarshalDetails(s string) (*SportDetails, error) {
	if s == "" {
		return nil, nil
	}
	var d SportDetails
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sport details: %w", err)
	}
	return &d, nil
}
