// Command matchlogd runs the MatchLog offline core: the local event cache,
// the durable sync queue, the background sync scheduler and the HTTP/WS
// surface the UI shell talks to.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/matchlog/matchlog-go/internal/cache"
	"github.com/matchlog/matchlog-go/internal/config"
	"github.com/matchlog/matchlog-go/internal/logging"
	"github.com/matchlog/matchlog-go/internal/queue"
	"github.com/matchlog/matchlog-go/internal/remote"
	"github.com/matchlog/matchlog-go/internal/server"
	"github.com/matchlog/matchlog-go/internal/store"
	syncpkg "github.com/matchlog/matchlog-go/internal/sync"
	"github.com/matchlog/matchlog-go/internal/sync/scheduler"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(logging.Options{
		Env:   cfg.Env,
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("matchlogd exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return err
	}
	version, err := st.CurrentVersion()
	if err != nil {
		return err
	}
	log.Info("store ready", zap.String("data_dir", cfg.DataDir), zap.Int("schema_version", version))

	c := cache.New(st)
	defer c.Close()
	q := queue.NewManager(st, log)

	engine := syncpkg.NewEngine(c, q, log)
	applier := remote.NewApplier(remote.Config{
		BaseURL:      cfg.BackendURL,
		SessionToken: cfg.SessionToken,
		RatePerSec:   cfg.RatePerSec,
	})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Interval = cfg.SyncInterval
	schedCfg.WarnAttempts = cfg.WarnAttempts
	sched := scheduler.New(engine, q, applier.Apply, schedCfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()
	// The desktop shell feeds real connectivity signals over the API;
	// until the first signal arrives, assume online so startup drains.
	sched.SetOnline(true)

	srv := server.New(cfg.ListenAddr, c, q, sched, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
