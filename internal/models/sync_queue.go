// Package models provides data model definitions for the MatchLog offline core.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation a queue item will replay.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation validates and converts a string to an Operation.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpCreate, OpUpdate, OpDelete:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation: %q", s)
}

// EntityType is the kind of entity a queue item targets.
type EntityType string

const (
	EntityEvent EntityType = "event"
	EntityVenue EntityType = "venue"
)

// ParseEntityType validates and converts a string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityEvent, EntityVenue:
		return EntityType(s), nil
	}
	return "", fmt.Errorf("unknown entity type: %q", s)
}

// SyncQueueItem is a durable record of one pending mutation awaiting replay
// against the backend. Seq is assigned by the store and defines FIFO order.
type SyncQueueItem struct {
	Seq        int64           `db:"seq" json:"seq"`
	Operation  Operation       `db:"operation" json:"operation"`
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	CreatedAt  int64           `db:"created_at" json:"created_at"`
	Attempts   int             `db:"attempts" json:"attempts"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (i *SyncQueueItem) CreatedAtTime() time.Time {
	return time.Unix(i.CreatedAt, 0)
}
