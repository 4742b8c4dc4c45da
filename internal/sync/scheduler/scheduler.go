// Package scheduler runs background sync drains when connectivity allows.
// The host environment feeds it the online/offline signal; the scheduler
// owns the single-flight guard the engine's SyncAll contract requires.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matchlog/matchlog-go/internal/queue"
	syncpkg "github.com/matchlog/matchlog-go/internal/sync"
)

// RunResult reports one completed drain on the results channel. Every run
// is reported, including failed ones, so callers observe errors instead of
// losing them to a detached goroutine.
type RunResult struct {
	Result   syncpkg.Result
	Err      error
	At       time.Time
	Duration time.Duration
}

// Config holds scheduler configuration.
type Config struct {
	Interval     time.Duration // how often to drain when online
	DrainTimeout time.Duration // per-drain context timeout
	WarnAttempts int           // log a warning for items at or above this attempt count
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		DrainTimeout: 2 * time.Minute,
		WarnAttempts: 5,
	}
}

// Scheduler triggers drains on a timer, on connectivity restoration and on
// demand. Drains never overlap.
type Scheduler struct {
	engine  *syncpkg.Engine
	queue   *queue.Manager
	applyFn syncpkg.ApplyFunc
	cfg     Config
	log     *zap.Logger

	results chan RunResult
	kick    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	syncInProgress bool
	lastRun        time.Time
}

// New creates a Scheduler. The applyFn is the remote applier the engine
// will drain against.
func New(engine *syncpkg.Engine, q *queue.Manager, applyFn syncpkg.ApplyFunc, cfg Config, log *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		engine:  engine,
		queue:   q,
		applyFn: applyFn,
		cfg:     cfg,
		log:     log,
		results: make(chan RunResult, 16),
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Results exposes the completion channel. Consumers that fall behind miss
// results; the channel never blocks a drain.
func (s *Scheduler) Results() <-chan RunResult {
	return s.results
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info("sync scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop stops the scheduler gracefully, waiting for an in-flight drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.log.Info("sync scheduler stopped")
}

// SetOnline feeds the host connectivity signal. Transitioning to online
// triggers an immediate drain of whatever queued up while offline.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = online
	s.mu.Unlock()

	if wasOnline != online {
		s.log.Info("connectivity changed", zap.Bool("online", online))
	}
	if !wasOnline && online {
		s.RunNow()
	}
}

// IsOnline reports the last connectivity signal received.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// LastRun returns when the last drain finished, zero if none ran yet.
func (s *Scheduler) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// RunNow requests a drain outside the timer cadence (UI "sync now" button,
// connectivity restored). Coalesces with an already-pending request.
func (s *Scheduler) RunNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drain(ctx)
		case <-s.kick:
			s.drain(ctx)
		}
	}
}

// drain runs one SyncAll under the single-flight guard.
func (s *Scheduler) drain(ctx context.Context) {
	if !s.IsOnline() {
		s.log.Debug("skipping drain while offline")
		return
	}

	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		s.log.Debug("drain already in progress, skipping")
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.lastRun = time.Now()
		s.mu.Unlock()
	}()

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()

	started := time.Now()
	result, err := s.engine.SyncAll(drainCtx, s.applyFn)
	run := RunResult{Result: result, Err: err, At: time.Now(), Duration: time.Since(started)}

	if err != nil {
		s.log.Error("sync drain failed", zap.Error(err),
			zap.Int("success", result.Success), zap.Int("failed", result.Failed))
	}

	select {
	case s.results <- run:
	default:
	}

	s.warnStuckItems(ctx)
}

// warnStuckItems logs items whose attempt count crossed the warning
// threshold. The core enforces no retry cap; dead-lettering is the
// integrating application's policy, this only makes stuck items visible.
func (s *Scheduler) warnStuckItems(ctx context.Context) {
	if s.cfg.WarnAttempts <= 0 {
		return
	}
	items, err := s.queue.List(ctx)
	if err != nil {
		s.log.Error("failed to inspect queue for stuck items", zap.Error(err))
		return
	}
	for _, item := range items {
		if item.Attempts >= s.cfg.WarnAttempts {
			s.log.Warn("queued mutation is not making progress",
				zap.Int64("seq", item.Seq),
				zap.String("entity_id", item.EntityID),
				zap.Int("attempts", item.Attempts),
				zap.String("last_error", item.LastError))
		}
	}
}
