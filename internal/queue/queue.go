// Package queue manages the durable queue of mutations awaiting replay
// against the backend. The queue lives in the same local store as the
// cache so pending changes survive restarts.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
	"github.com/matchlog/matchlog-go/internal/models"
	"github.com/matchlog/matchlog-go/internal/store"
)

// Manager owns the lifecycle of pending-mutation records. It never
// reorders and never deduplicates: two offline mutations of the same
// entity stay two items and replay in order. How items get replayed is the
// sync engine's concern.
type Manager struct {
	st  *store.Store
	log *zap.Logger
}

// NewManager creates a Manager over an opened, migrated store.
func NewManager(st *store.Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{st: st, log: log}
}

// Enqueue appends a pending mutation and returns its store-assigned
// sequence number. Called whenever a mutation cannot be applied to the
// remote immediately.
func (m *Manager) Enqueue(ctx context.Context, op models.Operation, et models.EntityType, entityID string, payload json.RawMessage) (int64, error) {
	if _, err := models.ParseOperation(string(op)); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "invalid queue item", err)
	}
	if _, err := models.ParseEntityType(string(et)); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "invalid queue item", err)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	query := `
	INSERT INTO sync_queue (operation, entity_type, entity_id, payload, created_at, attempts, last_error)
	VALUES (?, ?, ?, ?, ?, 0, '')
	`
	res, err := m.st.ExecContext(ctx, query, op, et, entityID, string(payload), time.Now().Unix())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue mutation", store.Classify(err))
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue sequence", err)
	}

	m.log.Debug("enqueued mutation",
		zap.Int64("seq", seq),
		zap.String("operation", string(op)),
		zap.String("entity_type", string(et)),
		zap.String("entity_id", entityID))

	return seq, nil
}

const itemColumns = `seq, operation, entity_type, entity_id, payload, created_at, attempts, last_error`

// List returns all pending items in FIFO order. The ordering is
// load-bearing: a create must replay before a later update of the same
// entity.
func (m *Manager) List(ctx context.Context) ([]*models.SyncQueueItem, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_queue ORDER BY seq ASC`
	rows, err := m.st.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", store.Classify(err))
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		var item models.SyncQueueItem
		var payload string
		err := rows.Scan(&item.Seq, &item.Operation, &item.EntityType, &item.EntityID,
			&payload, &item.CreatedAt, &item.Attempts, &item.LastError)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue item", err)
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", store.Classify(err))
	}
	return items, nil
}

// Remove deletes an item after a successful remote apply. Removing an
// already-removed sequence number is a no-op.
func (m *Manager) Remove(ctx context.Context, seq int64) error {
	_, err := m.st.ExecContext(ctx, `DELETE FROM sync_queue WHERE seq = ?`, seq)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove queue item", store.Classify(err))
	}
	return nil
}

// UpdateAfterAttempt records a failed replay attempt without removing the
// item. There is no retry cap here: abandoning an item is the caller's
// decision, never the queue's.
func (m *Manager) UpdateAfterAttempt(ctx context.Context, seq int64, incrementAttempts bool, lastError string) error {
	query := `UPDATE sync_queue SET attempts = attempts + ?, last_error = ? WHERE seq = ?`
	incr := 0
	if incrementAttempts {
		incr = 1
	}
	_, err := m.st.ExecContext(ctx, query, incr, lastError, seq)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update queue item", store.Classify(err))
	}
	return nil
}

// Count returns the number of pending items, for the UI badge.
func (m *Manager) Count(ctx context.Context) (int, error) {
	var count int
	err := m.st.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue", store.Classify(err))
	}
	return count, nil
}

// Clear drops every pending item. Only ever called for an explicit
// user-initiated "discard unsynced changes"; nothing in the core calls it
// implicitly.
func (m *Manager) Clear(ctx context.Context) error {
	_, err := m.st.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear queue", store.Classify(err))
	}
	m.log.Info("sync queue cleared")
	return nil
}
