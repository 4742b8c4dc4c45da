// Package models provides data model definitions for the MatchLog offline core.
package models

import "time"

// VenueType distinguishes stadiums, arenas and concert halls on the map view.
type VenueType string

const (
	VenueStadium     VenueType = "stadium"
	VenueArena       VenueType = "arena"
	VenueBallpark    VenueType = "ballpark"
	VenueCourt       VenueType = "court"
	VenueConcertHall VenueType = "concert_hall"
)

// CachedVenue is the local mirror of a venue. Venues are reference data:
// they are created or updated alongside events but never queued for sync
// on their own.
type CachedVenue struct {
	ID        UUID      `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	City      string    `db:"city" json:"city"`
	Country   string    `db:"country" json:"country"`
	Latitude  float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude float64   `db:"longitude" json:"longitude,omitempty"`
	Type      VenueType `db:"venue_type" json:"type"`
	CreatedAt int64     `db:"created_at" json:"created_at"`
	UpdatedAt int64     `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for CachedVenue.
func (CachedVenue) TableName() string {
	return "venues"
}

// Touch updates the UpdatedAt timestamp.
func (v *CachedVenue) Touch() {
	v.UpdatedAt = time.Now().Unix()
}
