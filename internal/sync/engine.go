// Package sync drains the pending-mutation queue against the backend and
// reconciles each cached entity's sync state with the outcome.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matchlog/matchlog-go/internal/cache"
	"github.com/matchlog/matchlog-go/internal/models"
	"github.com/matchlog/matchlog-go/internal/queue"
)

// ApplyFunc translates one queue item into a network call against the
// backend. It reports whether the mutation was accepted; transport
// failures come back as errors.
type ApplyFunc func(ctx context.Context, item *models.SyncQueueItem) (bool, error)

// Result is the aggregate tally of one full queue walk.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Engine replays queued mutations strictly in FIFO order, one at a time,
// preserving per-entity causal ordering. A failed item is recorded and
// skipped, never dropped; the walk always continues to the end.
//
// SyncAll must not be invoked concurrently with itself: removal happens
// only after the apply resolves, so overlapping drains could apply the
// same item twice. The scheduler provides the single-flight guard.
type Engine struct {
	cache *cache.Cache
	queue *queue.Manager
	log   *zap.Logger

	now func() time.Time
}

// NewEngine creates an Engine over the cache accessor and queue manager.
func NewEngine(c *cache.Cache, q *queue.Manager, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cache: c,
		queue: q,
		log:   log,
		now:   time.Now,
	}
}

// SyncAll walks the queue once. Each item is applied via applyFn; success
// removes the item and marks the cached event synced, failure increments
// its attempt counter, records the error and marks the event errored. The
// engine never retries within a single call — repeated invocation on a
// timer or connectivity event is the caller's policy.
//
// A cancelled context stops the walk early and returns the partial tally
// with ctx.Err(); items not yet attempted stay queued untouched.
func (e *Engine) SyncAll(ctx context.Context, applyFn ApplyFunc) (Result, error) {
	var result Result

	items, err := e.queue.List(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list sync queue: %w", err)
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		ok, applyErr := e.apply(ctx, applyFn, item)
		if ok && applyErr == nil {
			e.completeItem(ctx, item, &result)
			continue
		}

		if applyErr == nil {
			applyErr = fmt.Errorf("remote rejected %s %s %s", item.Operation, item.EntityType, item.EntityID)
		}
		e.failItem(ctx, item, applyErr, &result)
	}

	e.log.Info("sync drain finished",
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed))

	return result, nil
}

// apply invokes applyFn, converting a panic into a per-item failure so one
// bad item can never abort the batch.
func (e *Engine) apply(ctx context.Context, applyFn ApplyFunc, item *models.SyncQueueItem) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("apply panicked: %v", r)
		}
	}()
	return applyFn(ctx, item)
}

func (e *Engine) completeItem(ctx context.Context, item *models.SyncQueueItem, result *Result) {
	if err := e.queue.Remove(ctx, item.Seq); err != nil {
		// The apply succeeded but the local bookkeeping failed; leave the
		// item for the next drain. The remote API is idempotent, so a
		// duplicate apply is safe.
		e.log.Error("failed to remove applied queue item", zap.Int64("seq", item.Seq), zap.Error(err))
		result.Failed++
		return
	}

	if item.EntityType == models.EntityEvent && item.Operation != models.OpDelete {
		if err := e.cache.MarkSynced(ctx, item.EntityID, e.now()); err != nil {
			e.log.Error("failed to mark event synced", zap.String("entity_id", item.EntityID), zap.Error(err))
		}
	}

	result.Success++
	e.log.Debug("applied queued mutation",
		zap.Int64("seq", item.Seq),
		zap.String("operation", string(item.Operation)),
		zap.String("entity_id", item.EntityID))
}

func (e *Engine) failItem(ctx context.Context, item *models.SyncQueueItem, applyErr error, result *Result) {
	if err := e.queue.UpdateAfterAttempt(ctx, item.Seq, true, applyErr.Error()); err != nil {
		e.log.Error("failed to record attempt", zap.Int64("seq", item.Seq), zap.Error(err))
	}

	if item.EntityType == models.EntityEvent {
		if err := e.cache.SetSyncState(ctx, item.EntityID, models.SyncStateError); err != nil {
			e.log.Error("failed to mark event errored", zap.String("entity_id", item.EntityID), zap.Error(err))
		}
	}

	result.Failed++
	e.log.Warn("queued mutation failed",
		zap.Int64("seq", item.Seq),
		zap.String("operation", string(item.Operation)),
		zap.String("entity_id", item.EntityID),
		zap.Int("attempts", item.Attempts+1),
		zap.Error(applyErr))
}
